package api

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ModelInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// Manifest describes one container: its header fields plus derived layout
// information.
type Manifest struct {
	Object           string `json:"object"`
	Model            string `json:"model"`
	Version          uint32 `json:"version"`
	FileSize         int64  `json:"file_size"`
	NumLayers        uint32 `json:"num_layers"`
	HiddenSize       uint32 `json:"hidden_size"`
	NumHeads         uint32 `json:"num_heads"`
	VocabSize        uint32 `json:"vocab_size"`
	MaxSeqLen        uint32 `json:"max_seq_len"`
	IntermediateSize uint32 `json:"intermediate_size"`
	SectionCount     int    `json:"section_count"`
}

// ChecksumList is the body of GET /v1/models/:id/checksums.
type ChecksumList struct {
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Data   []ChecksumEntry `json:"data"`
}

type ChecksumEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
}

// VerifyResult is the body of POST /v1/models/:id/verify.
type VerifyResult struct {
	Object   string          `json:"object"`
	Model    string          `json:"model"`
	OK       bool            `json:"ok"`
	Sections []SectionResult `json:"sections"`
}

type SectionResult struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
