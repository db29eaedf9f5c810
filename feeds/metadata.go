package feeds

import (
	"encoding/json"
	"fmt"
	"strings"

	"snapfeed/models"
)

// ParseTags extracts the tag set from an item's json metadata.
// Metadata without a tags field yields an empty set.
func ParseTags(raw string) (models.TagSet, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &MetadataParseError{}
	}

	var metadata struct {
		Tags json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, &MetadataParseError{Err: err}
	}

	tags := models.TagSet{}
	if len(metadata.Tags) == 0 || string(metadata.Tags) == "null" {
		return tags, nil
	}

	// Most clients write an array, some older ones a single string
	var list []string
	if err := json.Unmarshal(metadata.Tags, &list); err == nil {
		for _, tag := range list {
			tags[tag] = struct{}{}
		}
		return tags, nil
	}

	var single string
	if err := json.Unmarshal(metadata.Tags, &single); err == nil {
		if single != "" {
			tags[single] = struct{}{}
		}
		return tags, nil
	}

	return nil, &MetadataParseError{Err: fmt.Errorf("unsupported tags value %s", string(metadata.Tags))}
}
