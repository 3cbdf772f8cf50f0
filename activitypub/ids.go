package activitypub

import (
	"fmt"
	"strings"

	"github.com/deemkeen/pubgate/util"
	"github.com/google/uuid"
)

// LikeID is the id of host's Like of objectURI. Liking the same object again
// yields the same id, which is how a repeated like is detected and how the
// like to undo is found.
func LikeID(host, objectURI string) string {
	return fmt.Sprintf("https://%s/like/%s", host, util.HashURI(objectURI))
}

// AnnounceID is the id of host's repost of objectURI.
func AnnounceID(host, objectURI string) string {
	return fmt.Sprintf("https://%s/announce/%s", host, util.HashURI(objectURI))
}

// UndoID is the id of host's Undo of the activity undoneID.
func UndoID(host, undoneID string) string {
	return fmt.Sprintf("https://%s/undo/%s", host, util.HashURI(undoneID))
}

// NewID returns a fresh id for a document of the given type, e.g.
// https://host/follow/<uuid>.
func NewID(host, typ string) string {
	return fmt.Sprintf("https://%s/%s/%s", host, strings.ToLower(typ), uuid.New().String())
}

// ObjectIDFor returns the id of an object authored on host with a known
// uuid, used for articles so republishing maps onto the same object.
func ObjectIDFor(host, typ string, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/%s/%s", host, strings.ToLower(typ), id.String())
}
