package captioning

import (
	"fmt"
	"strings"

	"github.com/lehigh-university-libraries/captioner/internal/settings"
)

// PlaceholderToken is an image reference some local vision models echo into their output
const PlaceholderToken = "[img0]"

const interrogateUserPrompt = "Please describe the image in detail and ensure it adheres to the guidelines. Do not include any uncertainty (i.e. I dont know, appears, seems) or any other text. Focus exclusively on visible elements and not conceptual ones."

const enhanceSystemPrompt = `You are an image caption writer for text-to-image training datasets. When given a caption, rewrite it as a single richer description that could be used to generate the image with a diffusion model. Keep every concrete detail from the input and expand it with plausible visual specifics: subject, clothing, pose, lighting, camera angle and setting. Do not include any other text or chat, including a greeting. Do not use quotes.
Your response should always be in natural language format separated by commas, not tags and no quotes or other formatting.`

const extendSystemPrompt = `You are an AI assistant specialized in fixing image caption length. Your task is to make sure the provided caption is under 100 words while keeping its most important visual details. Your response should always be in natural language format separated by commas, not tags and no quotes or other formatting.`

// buildInterrogationPrompt assembles the captioning rubric sent as the system message
func buildInterrogationPrompt(opts settings.PromptOptions, currentCaption string) string {
	var b strings.Builder

	b.WriteString("You are an AI assistant that captions images for training purposes. Your task is to create clear, detailed captions")
	if opts.CustomToken != "" {
		fmt.Fprintf(&b, " that incorporate the custom token %q at the beginning.", opts.CustomToken)
	} else {
		b.WriteString(".")
	}

	globals := "Rare tokens or uniform tags"
	if opts.CustomToken != "" {
		globals += fmt.Sprintf(" (e.g., %s)", opts.CustomToken)
	}

	fmt.Fprintf(&b, `
The following guide outlines the captioning approach:

### Captioning Principles:
1. **Avoid Making Main Concepts Variable**: Exclude specific traits of the main teaching point to ensure it remains consistent across the dataset.
2. **Include Detailed Descriptions**: Describe everything except the primary concept being taught.
3. **Use Generic Classes as Tags**:
   - Broad tags (e.g., "man") can bias the entire class toward the training data.
   - Specific tags (e.g., character name or unique string like "m4n") can reduce impact on the general class while creating strong associations.

### Caption Structure:
1. **Globals**: %s.
1.5. **Natural Language Description**: A concise description shorter than a sentence but longer than a tag describing the entire scene.
2. **Type/Perspective**:
   - Broad description of the image type and perspective (e.g., "photograph," "full body," "from side").
3. **Action Words**:
   - Verbs describing actions or states (e.g., "sitting," "looking at viewer," "smiling").
4. **Subject Descriptions**:
   - Detailed descriptions excluding the main teaching concept (e.g., "short brown hair," "pale pink dress").
5. **Notable Details**:
   - Unique or emphasized elements not classified as background (e.g., "sunlight through windows").
6. **Background/Location**:
   - Layered background context (e.g., "brown couch," "wooden floor," "refrigerator in background").
7. **Loose Associations**:
   - Relevant associations or emotions (e.g., "dreary environment").
Combine all of these to create a detailed caption for the image. Do not include any other text or formatting.
`, globals)

	if opts.InherentAttributes != "" {
		fmt.Fprintf(&b, "\n### Inherent Attributes to Avoid:\n%s\n", opts.InherentAttributes)
	}

	if opts.CustomInstruction != "" {
		fmt.Fprintf(&b, "\n%s\n", opts.CustomInstruction)
	}

	if currentCaption != "" {
		fmt.Fprintf(&b, " The user says this about the image: %q. Consider this information while creating your caption, but don't simply repeat it. Provide your own detailed description.", currentCaption)
	}

	return b.String()
}

func buildTextPrompt(action Action, caption string) (system, user string) {
	switch action {
	case Enhance:
		return enhanceSystemPrompt, "Enhance this image caption: " + caption
	default:
		return extendSystemPrompt, "Extend this image caption: " + caption
	}
}

func cleanCaption(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, PlaceholderToken, ""))
}
