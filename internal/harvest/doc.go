// Package harvest defines the core types, interfaces and checkpoint logic shared by
// the registry harvesting pipeline.
//
// A harvest runs per entity in two phases. The download phase crawls the registry
// (START -> LISTING -> DETAIL) and stores every document it finds; the OCR phase
// converts the stored PDFs to text. Each phase owns one CrawlState record in the
// StateStore, keyed by StateKey, and that record is the only resumption truth: a
// finished phase is never recomputed and an unfinished one is rerun from scratch.
package harvest
