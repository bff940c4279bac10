// Package models owns the model catalog, on-disk model lifecycle, the
// process-wide active model selection, LLM credentials and usage stats.
package models

// Kind groups downloadable models by the pipeline stage they serve.
// The kind doubles as the directory name under the models root.
type Kind string

const (
	KindASR  Kind = "asr"
	KindVAD  Kind = "vad"
	KindPunc Kind = "punc"
)

const (
	ParaformerModelID = "sherpa-onnx-paraformer-zh-small-2024-03-09"
	SenseVoiceModelID = "sherpa-onnx-sense-voice-zh-en-ja-ko-yue-int8-2025-09-09"
	SileroVADModelID  = "silero-vad"
	PunctModelID      = "sherpa-onnx-punct-ct-transformer-zh-en"

	DefaultASRModelID = ParaformerModelID
)

// FileSpec is one file a model variant needs on disk. The checksum is
// verified after download and again when readiness is computed.
type FileSpec struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// Descriptor describes one downloadable offline model.
type Descriptor struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Title     string     `json:"title"`
	SizeLabel string     `json:"size"`
	Offline   bool       `json:"offline"`
	Files     []FileSpec `json:"files"`
}

// LlmProvider is one way to reach an LLM model, with the remote model
// name and the base URL of its OpenAI-compatible endpoint.
type LlmProvider struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Model      string `json:"model,omitempty"`
	APIBaseURL string `json:"apiBaseUrl,omitempty"`
	APIKeyURL  string `json:"apiKeyUrl,omitempty"`
	APIKeyEnv  string `json:"apiKeyEnv,omitempty"`
}

// LlmModel is a user-facing text model with one or more providers.
type LlmModel struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Providers []LlmProvider `json:"providers"`
}

// Catalog is the full static model registry.
type Catalog struct {
	AsrModels []Descriptor `json:"asrModels"`
	AuxModels []Descriptor `json:"auxModels"`
	LlmModels []LlmModel   `json:"llmModels"`
}

const sherpaReleaseBase = "https://github.com/k2-fsa/sherpa-onnx/releases/download"

// DefaultCatalog returns the built-in registry. Callers must not
// mutate the returned value.
func DefaultCatalog() Catalog {
	return Catalog{
		AsrModels: []Descriptor{
			{
				ID:        ParaformerModelID,
				Kind:      KindASR,
				Title:     "Paraformer 中文通用离线轻量版",
				SizeLabel: "83.4 MB",
				Offline:   true,
				Files: []FileSpec{
					{
						Name:   "model.int8.onnx",
						URL:    sherpaReleaseBase + "/asr-models/" + ParaformerModelID + "/model.int8.onnx",
						SHA256: "5a41bd1b8d53cf4f8bd09b09f95ad4d1bfd7b63c9cce2a8a8e6c5d1a3f0b7c42",
					},
					{
						Name:   "tokens.txt",
						URL:    sherpaReleaseBase + "/asr-models/" + ParaformerModelID + "/tokens.txt",
						SHA256: "c7d2e35a4ef90d86f21c0e9b57a3c8744fb1da6ba02e4fd0918c4a7e62d5b391",
					},
				},
			},
			{
				ID:        SenseVoiceModelID,
				Kind:      KindASR,
				Title:     "SenseVoice 中英日韩粤语离线轻量版",
				SizeLabel: "244 MB",
				Offline:   true,
				Files: []FileSpec{
					{
						Name:   "model.int8.onnx",
						URL:    sherpaReleaseBase + "/asr-models/" + SenseVoiceModelID + "/model.int8.onnx",
						SHA256: "9e8f2c1ab347d0d2c5b61a4708de93f5216ccf0b88a1e3d94275b0c6e4a8f713",
					},
					{
						Name:   "tokens.txt",
						URL:    sherpaReleaseBase + "/asr-models/" + SenseVoiceModelID + "/tokens.txt",
						SHA256: "1f63a9d0c8247eb5f90332d176c4ab8fe5d08b4a6921ce7503d8ef1b2a64c095",
					},
				},
			},
		},
		AuxModels: []Descriptor{
			{
				ID:        SileroVADModelID,
				Kind:      KindVAD,
				Title:     "Silero 语音活动检测",
				SizeLabel: "2.2 MB",
				Offline:   true,
				Files: []FileSpec{
					{
						Name:   "silero_vad.onnx",
						URL:    sherpaReleaseBase + "/asr-models/silero_vad.onnx",
						SHA256: "6b3d8ef017425cd9a0f6b1e84c2da5f3907cb18ae6420dd5f13b07a9c8e26401",
					},
				},
			},
			{
				ID:        PunctModelID,
				Kind:      KindPunc,
				Title:     "中英标点恢复",
				SizeLabel: "147 MB",
				Offline:   true,
				Files: []FileSpec{
					{
						Name:   "model.onnx",
						URL:    sherpaReleaseBase + "/punctuation-models/" + PunctModelID + "/model.onnx",
						SHA256: "e02a5d7f41c8b3960dd1f5a2c6748be09f3d16c40a85e2b7d9c013fa6e58b274",
					},
					{
						Name:   "tokens.json",
						URL:    sherpaReleaseBase + "/punctuation-models/" + PunctModelID + "/tokens.json",
						SHA256: "48d1c5e2a70963bfd425f801b6e3c977ad62049cf1b58e3a0d7246c9e5f83b10",
					},
				},
			},
		},
		LlmModels: []LlmModel{
			{
				ID:    "deepseek",
				Title: "DeepSeek",
				Providers: []LlmProvider{
					{
						ID:         "deepseek",
						Name:       "DeepSeek",
						Model:      "deepseek-chat",
						APIBaseURL: "https://api.deepseek.com/v1",
						APIKeyURL:  "https://platform.deepseek.com/api_keys",
						APIKeyEnv:  "DEEPSEEK_API_KEY",
					},
					{
						ID:         "modelscope",
						Name:       "魔搭社区",
						Model:      "deepseek-ai/DeepSeek-V3.2-Exp",
						APIBaseURL: "https://api-inference.modelscope.cn/v1",
						APIKeyURL:  "https://modelscope.cn/my/myaccesstoken",
						APIKeyEnv:  "MODELSCOPE_ACCESS_TOKEN",
					},
				},
			},
			{
				ID:    "qwen",
				Title: "通义千问",
				Providers: []LlmProvider{
					{
						ID:         "modelscope",
						Name:       "魔搭社区",
						Model:      "Qwen/Qwen3-32B",
						APIBaseURL: "https://api-inference.modelscope.cn/v1",
						APIKeyURL:  "https://modelscope.cn/my/myaccesstoken",
						APIKeyEnv:  "MODELSCOPE_ACCESS_TOKEN",
					},
				},
			},
		},
	}
}

// FindOffline looks up a downloadable model across ASR and aux models.
func (c Catalog) FindOffline(id string) (Descriptor, bool) {
	for _, d := range c.AsrModels {
		if d.ID == id {
			return d, true
		}
	}
	for _, d := range c.AuxModels {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// FindLlm looks up a text model by catalog id.
func (c Catalog) FindLlm(id string) (LlmModel, bool) {
	for _, m := range c.LlmModels {
		if m.ID == id {
			return m, true
		}
	}
	return LlmModel{}, false
}

// FindLlmProvider resolves a (model, provider) pair from the catalog.
func (c Catalog) FindLlmProvider(modelID, providerID string) (LlmModel, LlmProvider, bool) {
	model, ok := c.FindLlm(modelID)
	if !ok {
		return LlmModel{}, LlmProvider{}, false
	}
	for _, p := range model.Providers {
		if p.ID == providerID {
			return model, p, true
		}
	}
	return LlmModel{}, LlmProvider{}, false
}
