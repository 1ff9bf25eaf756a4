// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ai provides abstractions for the external model services used by contentpulse.
//
// The pipeline depends on two narrow capabilities:
//
//   - Embedder: turns text into fixed-length vectors
//   - Generator: turns a prompt into free text
//
// Provider aggregates one of each. The embedder and the generator may come
// from different vendors; NewProvider composes them.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs through langchaingo (Ollama, vLLM, OpenAI)
//   - ai/cohere: Cohere embeddings
//   - ai/gemini: Google Gemini embeddings and generation
//   - ai/anthropic: Claude generation
//   - ai/mock: test doubles for unit testing without external dependencies
//
// Public constructors return interface types. Mock constructors return
// concrete types so tests can inject behavior and read call counts.
//
// # Errors
//
// Implementations classify their failures with the sentinels in errors.go.
// ErrRateLimited, ErrTimeout and ErrUnavailable are transient and may be
// retried; ErrInvalidInput, ErrSafetyRejected and ErrAuthentication are
// permanent. Classify and ClassifyStatus help adapters map vendor errors.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vectors, err := provider.Embedder().EmbedTexts(ctx, texts)
//	answer, err := provider.Generator().Generate(ctx, system, prompt)
package ai
