package worker

import "encoding/json"

// Frames are single-line JSON objects terminated by '\n'.
//
//	-> {"id":"<uuid>","payload":{...}}
//	<- {"id":"<uuid>","result":{...}}      success
//	<- {"id":"<uuid>","error":"message"}   handler failure

type requestFrame struct {
	ID      string `json:"id"`
	Payload any    `json:"payload"`
}

type incomingFrame struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type responseFrame struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TextRequest asks the text-layer worker for the embedded text of a PDF.
type TextRequest struct {
	PDFPath string `json:"pdfPath"`
}

// OCRRequest asks the OCR worker to read every page image in ImageDir.
type OCRRequest struct {
	ImageDir     string `json:"imageDir"`
	TextLayerRef string `json:"textLayerRef,omitempty"`
	ForceTier    int    `json:"forceTier,omitempty"`
}

// Result is the response shape shared by both workers.
type Result struct {
	FullText   string   `json:"fullText"`
	Pages      []string `json:"pages"`
	TotalPages int      `json:"totalPages"`
	OCRTier    int      `json:"ocrTier,omitempty"`
}
