// Package ocr defines the text-recognition collaborator and the canonical
// form of a recognition-language set.
//
// A language set is stored as its key: BCP 47 tags canonicalized with
// golang.org/x/text/language, deduplicated, sorted and space-joined. Two sets
// are equal exactly when their keys are.
package ocr
