package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"

	"github.com/funmagic-ai/magiworld-sub000/internal/breaker"
	"github.com/funmagic-ai/magiworld-sub000/internal/ledger"
)

// backgroundRemoveInput is the inputParams shape for the background-remove
// single-step tool (scenario S1).
type backgroundRemoveInput struct {
	ImageURL string `json:"imageUrl"`
}

type imageOutput struct {
	ResultURL         string `json:"resultUrl"`
	UnsignedResultURL string `json:"unsignedResultUrl"`
	Provider          string `json:"provider"`
	Model             string `json:"model"`
}

// NewBackgroundRemoveHandler returns the single-step handler for
// "background-remove": resolve credentials, sign any private-bucket input
// URL, invoke the provider, report a monotonic progress schedule, persist
// the artifact, and ledger the call.
func NewBackgroundRemoveHandler(oa OpenAIImages, br *breaker.Registry) Handler {
	return Handler{Single: func(ctx *Context) (Result, error) {
		var in backgroundRemoveInput
		if err := json.Unmarshal(ctx.InputParams, &in); err != nil {
			return Result{}, fmt.Errorf("backgroundremove: decode inputParams: %w", err)
		}

		if _, err := ctx.Providers.GetCredentials(ctx.Context, "openai"); err != nil {
			return Result{}, err // fatal: ProviderNotFound / ProviderNoApiKey are not retried
		}

		imageURL := in.ImageURL
		if isOwnBucketURL(imageURL) {
			signed, err := ctx.Artifacts.Sign(ctx.Context, imageURL, time.Hour)
			if err != nil {
				return Result{}, fmt.Errorf("backgroundremove: sign input: %w", err)
			}
			imageURL = signed
		}

		ctx.ProgressSink(10, "downloading source image")
		start := time.Now()
		resp, err := br.Call(ctx.Context, "openai", func() (any, error) {
			return oa.NewEdit(ctx.Context, openaisdk.ImageEditParams{
				Model:  openaisdk.ImageModelGPTImage1,
				Prompt: "remove the background, keep the subject, transparent background",
			})
		})
		latency := time.Since(start)
		if err != nil {
			ctx.Ledger.WriteTaskResponse(ctx.Context, ledger.TaskResponse{
				TaskID: ctx.TaskID, Provider: "openai", LatencyMs: latency.Milliseconds(), ErrorMessage: err.Error(),
			})
			return Result{}, fmt.Errorf("backgroundremove: provider call: %w", err)
		}
		ctx.ProgressSink(70, "fetching result")

		result := resp.(*openaisdk.ImagesResponse)
		if len(result.Data) == 0 {
			return Result{}, fmt.Errorf("backgroundremove: provider returned no images")
		}
		resultBytes, err := decodeImageData(result.Data[0])
		if err != nil {
			return Result{}, fmt.Errorf("backgroundremove: decode provider result: %w", err)
		}

		unsignedURL, err := ctx.Artifacts.Put(ctx.Context, ctx.OwnerKind, ctx.OwnerID, ctx.TaskID, ctx.ToolSlug, "png", resultBytes, "")
		if err != nil {
			return Result{}, fmt.Errorf("backgroundremove: persist artifact: %w", err)
		}
		signedURL, err := ctx.Artifacts.Sign(ctx.Context, unsignedURL, time.Hour)
		if err != nil {
			return Result{}, fmt.Errorf("backgroundremove: sign artifact: %w", err)
		}

		ctx.Ledger.WriteTaskResponse(ctx.Context, ledger.TaskResponse{
			TaskID: ctx.TaskID, Provider: "openai", Model: string(openaisdk.ImageModelGPTImage1),
			LatencyMs: latency.Milliseconds(), StatusCode: 200,
		})

		out := imageOutput{ResultURL: signedURL, UnsignedResultURL: unsignedURL, Provider: "openai", Model: string(openaisdk.ImageModelGPTImage1)}
		outBytes, err := json.Marshal(out)
		if err != nil {
			return Result{}, fmt.Errorf("backgroundremove: encode output: %w", err)
		}
		usage, err := json.Marshal(map[string]any{"provider": "openai", "model": string(openaisdk.ImageModelGPTImage1), "apiLatencyMs": latency.Milliseconds()})
		if err != nil {
			return Result{}, fmt.Errorf("backgroundremove: encode usage: %w", err)
		}
		return Result{OutputData: outBytes, UsageData: usage}, nil
	}}
}

// isOwnBucketURL reports whether u points at one of our own artifact
// containers (and therefore needs signing before an external provider can
// fetch it) rather than a public upload URL.
func isOwnBucketURL(u string) bool {
	return u != "" && strings.Contains(u, "/results/")
}

// decodeImageData extracts raw bytes from a single openai image-response
// item, which the SDK returns as base64-encoded JSON content for edits.
func decodeImageData(item openaisdk.Image) ([]byte, error) {
	if item.B64JSON == "" {
		return nil, fmt.Errorf("image result has no b64_json payload")
	}
	return base64.StdEncoding.DecodeString(item.B64JSON)
}
