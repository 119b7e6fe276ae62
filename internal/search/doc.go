// Package search reorders a full-text result page by blending its lexical
// rank with semantic similarity between the query and each item.
//
// The blend is 0.6 lexical + 0.4 semantic. Lexical score is linear in rank
// position; semantic score is cosine similarity mapped onto [0, 1]. Item
// vectors are cached on the item, keyed by model, dimension and a hash of the
// item's semantic text, and refreshed in the background when stale.
package search
