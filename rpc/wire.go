// Package rpc exposes the dispatch pipeline over the Connect protocol and
// assembles the HTTP surface around it: the streaming ProcessImage procedure
// plus health and stats endpoints.
package rpc

// ProcedureProcessImage is the full procedure path of the image processing
// call: service ocr.v1.OCRService, method ProcessImage.
const ProcedureProcessImage = "/ocr.v1.OCRService/ProcessImage"

// ImageRequest is one image submitted for processing. Byte fields travel
// base64-encoded inside the JSON frames.
type ImageRequest struct {
	// Filename is the client-side name, echoed back for correlation.
	Filename string `json:"filename,omitempty"`

	// ImageData is the encoded image, PNG, JPEG, GIF, BMP, TIFF or WebP.
	ImageData []byte `json:"image_data,omitempty"`

	// BatchID groups the images of one submission.
	BatchID int32 `json:"batch_id,omitempty"`

	// ImageID identifies this image within its batch.
	ImageID int32 `json:"image_id,omitempty"`
}

// OCRResponse is the single reply streamed back for a request.
type OCRResponse struct {
	// ImageID and Filename echo the request so concurrent callers can match
	// replies to submissions.
	ImageID  int32  `json:"image_id,omitempty"`
	Filename string `json:"filename,omitempty"`

	// ExtractedText is the recognized text, or a sentinel string when the
	// image degraded somewhere in the pipeline.
	ExtractedText string `json:"extracted_text,omitempty"`

	// ProcessingTimeMS is the pipeline wall time in milliseconds, excluding
	// queue wait.
	ProcessingTimeMS float64 `json:"processing_time_ms,omitempty"`

	// Success reports that the image was processed. It stays true for
	// sentinel outcomes; transport errors are the only failures.
	Success bool `json:"success,omitempty"`

	// ProcessedImage is the PNG the recognition pass actually saw. Empty
	// when decoding or engine setup failed.
	ProcessedImage []byte `json:"processed_image,omitempty"`
}
