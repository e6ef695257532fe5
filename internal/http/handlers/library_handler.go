// Library webhook endpoints: the inbound port through which the media
// server reports item lifecycle events.
//
//   - POST /library/items/added
//   - POST /library/items/updated
//
// Events feed the notification scheduler, which decides whether an item
// is announced immediately or parked until its metadata settles.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-telejelly-backend/internal/notify"
)

// LibraryPort receives item lifecycle events. Satisfied by
// (*notify.Scheduler).
type LibraryPort interface {
	OnItemAdded(item notify.Item)
	OnItemUpdated(item notify.Item)
}

// LibraryHandlers serves the webhook endpoints.
type LibraryHandlers struct {
	port LibraryPort
}

// NewLibrary constructs the webhook handler set.
func NewLibrary(port LibraryPort) *LibraryHandlers {
	return &LibraryHandlers{port: port}
}

// LibraryItemEvent is the webhook payload for a single library item.
type LibraryItemEvent struct {
	ID                string   `json:"id" binding:"required"`
	Name              string   `json:"name" binding:"required"`
	Year              int      `json:"year"`
	Type              string   `json:"type"`
	ExternalID        string   `json:"imdbId"`
	ImageURL          string   `json:"imageUrl"`
	AudioLanguages    []string `json:"audioLanguages"`
	SubtitleLanguages []string `json:"subtitleLanguages"`
}

// item converts the payload to the scheduler's event type.
func (e LibraryItemEvent) item() notify.Item {
	return notify.Item{
		ID:                e.ID,
		Name:              e.Name,
		Year:              e.Year,
		Type:              e.Type,
		ExternalID:        e.ExternalID,
		ImageURL:          e.ImageURL,
		AudioLanguages:    e.AudioLanguages,
		SubtitleLanguages: e.SubtitleLanguages,
	}
}

// ItemAdded handles POST /library/items/added. Accepted events are
// processed asynchronously, so the endpoint replies 202.
func (h *LibraryHandlers) ItemAdded(c *gin.Context) {
	ev, okEv := bindItemEvent(c)
	if !okEv {
		return
	}
	h.port.OnItemAdded(ev.item())
	c.Status(http.StatusAccepted)
}

// ItemUpdated handles POST /library/items/updated.
func (h *LibraryHandlers) ItemUpdated(c *gin.Context) {
	ev, okEv := bindItemEvent(c)
	if !okEv {
		return
	}
	h.port.OnItemUpdated(ev.item())
	c.Status(http.StatusAccepted)
}

func bindItemEvent(c *gin.Context) (LibraryItemEvent, bool) {
	var ev LibraryItemEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid item payload")
		return LibraryItemEvent{}, false
	}
	return ev, true
}
