package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, op := range []string{"migrate", "insert_item", "get_item", "fetch_page", "set_pinned",
		"set_note", "set_external_path", "set_original", "set_ocr", "set_ocr_langs", "set_embedding",
		"replace_tags", "delete_items", "clear_preview", "stats", "app_histogram", "tag_histogram",
		"eviction_candidates", "reindex_candidates", "settings", "prune_tags", "item_tags", "all_ids"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, outcome := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(outcome)
	}

	for _, tier := range []string{"thumb", "preview", "original", "placeholder"} {
		AssetWritesTotal.WithLabelValues(tier, "success")
		AssetWritesTotal.WithLabelValues(tier, "error")
		AssetWriteBytes.WithLabelValues(tier)
		AssetRenderDuration.WithLabelValues(tier)
	}

	for _, status := range []string{"deleted", "missing", "error"} {
		AssetDeletesTotal.WithLabelValues(status)
	}

	for _, queue := range []string{"general", "indexing"} {
		JobAdmissionsTotal.WithLabelValues(queue, "accepted")
		JobAdmissionsTotal.WithLabelValues(queue, "rejected")
		JobsInFlight.WithLabelValues(queue)
	}

	for _, result := range []string{"hit", "miss"} {
		SearchEmbeddingCache.WithLabelValues(result)
	}
	for _, status := range []string{"success", "error", "skipped"} {
		SearchEmbeddingWriteBacks.WithLabelValues(status)
	}

	for _, policy := range []string{"retention", "count", "bytes"} {
		CleanupItemsDeleted.WithLabelValues(policy)
	}

	for _, state := range []string{"completed", "superseded", "canceled", "failed"} {
		ReindexPassesTotal.WithLabelValues(state)
	}
	for _, action := range []string{"relabel", "recognized", "error"} {
		ReindexItemsProcessed.WithLabelValues(action)
	}

	for _, op := range []string{"open", "read"} {
		FilesystemStaleErrors.WithLabelValues(op)
		FilesystemRetriesTotal.WithLabelValues(op, "success")
		FilesystemRetriesTotal.WithLabelValues(op, "failure")
	}
}
