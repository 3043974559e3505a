package generator

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// rawPreviewLen caps how much of an unusable response is echoed back in errors.
const rawPreviewLen = 1000

// NoImageError is returned when a response carries no decodable image anywhere.
type NoImageError struct {
	Raw string
}

func (e *NoImageError) Error() string {
	return "no image generated in the response"
}

// extractor is one place an image may live in an upstream response.
type extractor struct {
	name string
	fn   func(raw map[string]any) ([]byte, bool)
}

// extractors are tried in order; the first successful decode wins.
var extractors = []extractor{
	{name: "files", fn: fromFiles},
	{name: "response.images", fn: fromResponseImages},
	{name: "providerMetadata.google.files", fn: fromProviderMetadata},
	{name: "choices.message.images", fn: fromChatImages},
	{name: "candidates.content.parts", fn: fromInlineData},
}

// ExtractImage returns the generated image bytes and the name of the location they
// were found in. It fails with *NoImageError when no location yields an image.
func ExtractImage(raw map[string]any) ([]byte, string, error) {
	for _, ex := range extractors {
		if img, ok := ex.fn(raw); ok {
			return img, ex.name, nil
		}
	}
	return nil, "", &NoImageError{Raw: preview(raw)}
}

func fromFiles(raw map[string]any) ([]byte, bool) {
	for _, f := range asSlice(raw["files"]) {
		file := asMap(f)
		if !isImageType(str(file["mediaType"])) && !isImageType(str(file["mimeType"])) {
			continue
		}
		for _, key := range []string{"data", "base64", "uint8Array"} {
			if img, ok := decodeData(file[key]); ok {
				return img, true
			}
		}
	}
	return nil, false
}

func fromResponseImages(raw map[string]any) ([]byte, bool) {
	resp := asMap(raw["response"])
	for _, im := range asSlice(resp["images"]) {
		if img, ok := decodeData(asMap(im)["base64"]); ok {
			return img, true
		}
	}
	return nil, false
}

func fromProviderMetadata(raw map[string]any) ([]byte, bool) {
	google := asMap(asMap(raw["providerMetadata"])["google"])
	for _, f := range asSlice(google["files"]) {
		file := asMap(f)
		if !isImageType(str(file["mimeType"])) {
			continue
		}
		for _, key := range []string{"data", "base64"} {
			if img, ok := decodeData(file[key]); ok {
				return img, true
			}
		}
	}
	return nil, false
}

// fromChatImages reads the OpenAI-compatible gateway shape:
// choices[].message.images[].image_url.url holding a data URL.
func fromChatImages(raw map[string]any) ([]byte, bool) {
	for _, c := range asSlice(raw["choices"]) {
		msg := asMap(asMap(c)["message"])
		for _, im := range asSlice(msg["images"]) {
			u := str(asMap(asMap(im)["image_url"])["url"])
			if !strings.HasPrefix(u, "data:image/") {
				continue
			}
			if img, ok := decodeData(u); ok {
				return img, true
			}
		}
	}
	return nil, false
}

// fromInlineData reads the Gemini shape: candidates[].content.parts[].inlineData.
func fromInlineData(raw map[string]any) ([]byte, bool) {
	for _, c := range asSlice(raw["candidates"]) {
		content := asMap(asMap(c)["content"])
		for _, p := range asSlice(content["parts"]) {
			blob := asMap(asMap(p)["inlineData"])
			if !isImageType(str(blob["mimeType"])) {
				continue
			}
			if img, ok := decodeData(blob["data"]); ok {
				return img, true
			}
		}
	}
	return nil, false
}

// decodeData accepts a base64 string (optionally a data URL), a []byte, or a JSON
// array of byte values.
func decodeData(v any) ([]byte, bool) {
	switch d := v.(type) {
	case string:
		return decodeBase64(d)
	case []byte:
		return d, len(d) > 0
	case []any:
		return decodeByteArray(d)
	case map[string]any:
		// Buffers serialised by JS runtimes: {"type":"Buffer","data":[...]}
		return decodeByteArray(asSlice(d["data"]))
	}
	return nil, false
}

func decodeBase64(s string) ([]byte, bool) {
	if _, after, found := strings.Cut(s, ","); found {
		s = after
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) > 0 {
			return b, true
		}
	}
	return nil, false
}

func decodeByteArray(arr []any) ([]byte, bool) {
	if len(arr) == 0 {
		return nil, false
	}
	out := make([]byte, len(arr))
	for i, v := range arr {
		n, ok := v.(float64)
		if !ok || n < 0 || n > 255 || n != float64(int(n)) {
			return nil, false
		}
		out[i] = byte(n)
	}
	return out, true
}

func isImageType(s string) bool { return strings.HasPrefix(s, "image/") }

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func preview(raw map[string]any) string {
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	r := []rune(string(b))
	if len(r) > rawPreviewLen {
		r = r[:rawPreviewLen]
	}
	return string(r)
}
