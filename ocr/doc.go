// Package ocr defines the engine contract used to recognize text in scanned
// report pages and photographs, plus the image preprocessing applied before
// recognition. Engines can be backed by native libraries or remote APIs
// without leaking provider-specific concerns into callers.
package ocr
