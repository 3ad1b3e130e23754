package handlers

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaisdk "github.com/openai/openai-go"
)

// AnthropicMessages captures the subset of the Anthropic SDK client a
// handler needs, so tests can substitute a fake. Grounded on
// goa-ai/features/model/anthropic/client.go's MessagesClient interface,
// which narrows *anthropic.MessageService the same way.
type AnthropicMessages interface {
	New(ctx context.Context, body anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// OpenAIImages captures the subset of the OpenAI SDK used by image-transform
// handlers (background removal, upscale, text-to-image).
type OpenAIImages interface {
	NewEdit(ctx context.Context, body openaisdk.ImageEditParams) (*openaisdk.ImagesResponse, error)
	NewGeneration(ctx context.Context, body openaisdk.ImageGenerateParams) (*openaisdk.ImagesResponse, error)
}

// BedrockModels captures the subset of the Bedrock runtime client used by
// the 3-D generation step of the multi-step photo->stylize->3d tool.
type BedrockModels interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// ProviderClients bundles every adapter a worker process has constructed at
// startup, one per provider slug it may be asked to call.
type ProviderClients struct {
	Anthropic AnthropicMessages
	OpenAI    OpenAIImages
	Bedrock   BedrockModels
}

// openAIImagesAdapter narrows *openaisdk.ImageService's Edit/Generate calls
// to the OpenAIImages interface, the same narrowing goa-ai applies to the
// Anthropic Messages service in client.go.
type openAIImagesAdapter struct {
	svc *openaisdk.ImageService
}

// NewOpenAIImagesAdapter wraps a real OpenAI SDK client's Images service for
// use as an OpenAIImages.
func NewOpenAIImagesAdapter(svc *openaisdk.ImageService) OpenAIImages {
	return openAIImagesAdapter{svc: svc}
}

func (a openAIImagesAdapter) NewEdit(ctx context.Context, body openaisdk.ImageEditParams) (*openaisdk.ImagesResponse, error) {
	return a.svc.Edit(ctx, body)
}

func (a openAIImagesAdapter) NewGeneration(ctx context.Context, body openaisdk.ImageGenerateParams) (*openaisdk.ImagesResponse, error) {
	return a.svc.Generate(ctx, body)
}
