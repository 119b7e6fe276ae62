package handlers

import (
	"net/http"
	"strings"

	"capture-library/internal/database"
	"capture-library/internal/logging"

	"github.com/gorilla/mux"
)

// Paging limits for item listings.
const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxDeleteIDs    = 1000
)

// ItemResponse is a capture as returned by the API.
type ItemResponse struct {
	*database.CaptureItem
	Tags []string `json:"tags"`
}

func toResponse(item *database.CaptureItem) ItemResponse {
	tags := item.Tags()
	if tags == nil {
		tags = []string{}
	}
	return ItemResponse{CaptureItem: item, Tags: tags}
}

// ListResponse is one page of captures.
type ListResponse struct {
	Items  []ItemResponse `json:"items"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// parseFilter reads a database.Filter from query parameters:
// q, pinned, type, app, tag, after, before, sort.
func parseFilter(r *http.Request) database.Filter {
	q := r.URL.Query()
	f := database.Filter{
		Text:          q.Get("q"),
		PinnedOnly:    q.Get("pinned") == "true",
		CaptureType:   database.CaptureType(q.Get("type")),
		AppBundleID:   q.Get("app"),
		Tag:           q.Get("tag"),
		CreatedAfter:  queryInt64(r, "after"),
		CreatedBefore: queryInt64(r, "before"),
		Sort:          database.SortMode(q.Get("sort")),
	}
	if f.Sort == "" {
		if strings.TrimSpace(f.Text) != "" {
			f.Sort = database.SortRelevance
		} else {
			f.Sort = database.SortPinnedFirst
		}
	}
	return f
}

// ListItems returns a page of captures matching the query filter.
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset := max(queryInt(r, "offset", 0), 0)

	items, ok := h.lib.Search(r.Context(), parseFilter(r), limit, offset)
	if !ok {
		writeJSONError(w, "Library unavailable or busy", http.StatusServiceUnavailable)
		return
	}

	resp := ListResponse{Items: make([]ItemResponse, 0, len(items)), Limit: limit, Offset: offset}
	for _, it := range items {
		resp.Items = append(resp.Items, toResponse(it))
	}
	writeJSON(w, resp)
}

// GetItem returns one capture.
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.lib.Get(r.Context(), mux.Vars(r)["id"])
	if !ok {
		writeJSONError(w, "Item not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toResponse(item))
}

// GetThumbnail serves the JPEG thumbnail of a capture.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	data, ok := h.lib.Thumbnail(r.Context(), mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Thumbnail not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(data); err != nil {
		logging.Debug("thumbnail write aborted: %v", err)
	}
}

// PinRequest sets the pinned flag.
type PinRequest struct {
	Pinned bool `json:"pinned"`
}

// SetPinned pins or unpins a capture.
func (h *Handlers) SetPinned(w http.ResponseWriter, r *http.Request) {
	var req PinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.updated(w, r, h.lib.SetPinned(r.Context(), mux.Vars(r)["id"], req.Pinned))
}

// NoteRequest replaces the note.
type NoteRequest struct {
	Note string `json:"note"`
}

// SetNote replaces the note of a capture.
func (h *Handlers) SetNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.updated(w, r, h.lib.SetNote(r.Context(), mux.Vars(r)["id"], req.Note))
}

// TagsRequest replaces the tag set. Tags may be given as a list or as one
// comma separated string.
type TagsRequest struct {
	Tags []string `json:"tags,omitempty"`
	Text string   `json:"text,omitempty"`
}

// SetTags replaces the tags of a capture and returns the stored tags.
func (h *Handlers) SetTags(w http.ResponseWriter, r *http.Request) {
	var req TagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tags := req.Tags
	if req.Text != "" {
		tags = append(tags, database.ParseTags(req.Text)...)
	}

	stored, ok := h.lib.SetTags(r.Context(), mux.Vars(r)["id"], tags)
	if !ok {
		writeJSONError(w, "Item not found", http.StatusNotFound)
		return
	}
	if stored == nil {
		stored = []string{}
	}
	writeJSON(w, map[string][]string{"tags": stored})
}

// updated replies with the item after a successful update.
func (h *Handlers) updated(w http.ResponseWriter, r *http.Request, ok bool) {
	if !ok {
		writeJSONError(w, "Item not found", http.StatusNotFound)
		return
	}
	h.GetItem(w, r)
}

// DeleteRequest names the captures to delete.
type DeleteRequest struct {
	IDs []string `json:"ids"`
}

// DeleteItems deletes captures and their assets.
func (h *Handlers) DeleteItems(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeJSONError(w, "ids array is required", http.StatusBadRequest)
		return
	}
	if len(req.IDs) > maxDeleteIDs {
		writeJSONError(w, "too many ids", http.StatusBadRequest)
		return
	}

	n, ok := h.lib.Delete(r.Context(), req.IDs)
	if !ok {
		writeJSONError(w, "Library unavailable or busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]int{"deleted": n})
}
