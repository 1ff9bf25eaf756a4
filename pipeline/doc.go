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

// Package pipeline runs the ingestion-to-suggestion cycle.
//
// An Orchestrator executes the stages of a cycle strictly in order:
//
//	Scraping -> Embedding -> Retrieving -> Synthesizing -> Cleanup
//
// Each stage starts only after the previous one has returned, so the writes
// of one stage are committed before the next reads them. A failed stage is
// retried within the cycle when its error is transient, then the cycle moves
// on. Cleanup always runs unless the item store itself is down, in which case
// the cycle is aborted and every remaining stage is reported as skipped.
//
// # Triggers
//
// Cycles start from a cron schedule evaluated by Tick, or manually through
// RunCycle. Only one cycle is active at a time: an in-process flag guards the
// orchestrator and an optional Locker extends the guard across replicas. A
// trigger arriving while a cycle runs is discarded.
//
// # Observability
//
// Every cycle produces a core.PipelineRun that is saved to the store and
// handed to any configured RunRecorder.
package pipeline
