// Package rpc defines the wire surface of the embedding service: the message
// types, the msgpack codec, and the gRPC service descriptor shared by server
// and client.
package rpc

// StatusHealthy is the only value HealthCheck ever reports. The RPC is a
// liveness probe: it confirms the process is serving, not that the model
// backend is reachable. Readiness lives on the admin listener.
const StatusHealthy = "healthy"

type EmbeddingRequest struct {
	Texts []string `msgpack:"texts"`
}

// EmbeddingResponse carries one ubinary-quantized vector per request text,
// position-aligned. On failure the slice is empty and the error status
// carries the detail.
type EmbeddingResponse struct {
	Embeddings [][]byte `msgpack:"embeddings"`
}

type RerankingRequest struct {
	Query    string   `msgpack:"query"`
	Passages []string `msgpack:"passages"`
}

// RerankingResponse carries one relevance score per request passage,
// position-aligned. Relative magnitude between scores is the engine's
// contract, not this layer's.
type RerankingResponse struct {
	Scores []float32 `msgpack:"scores"`
}

type HealthCheckRequest struct{}

type HealthCheckResponse struct {
	Status string `msgpack:"status"`
}
