package server

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ewaller/chatrelay/pkg/datastore"
)

// roomExport is the YAML shape for one exported room.
type roomExport struct {
	ID          int64    `yaml:"id"`
	Name        string   `yaml:"name"`
	Creator     string   `yaml:"creator"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description,omitempty"`
	Moderators  []string `yaml:"moderators,omitempty"`
}

// ExportRoomsYAML returns all stored rooms as a YAML document, for
// operator backups and inspection. Password hashes are never exported.
func ExportRoomsYAML(st datastore.DataProviderFactory) ([]byte, error) {
	rooms, err := st.NonTx().ListRooms()
	if err != nil {
		return nil, fmt.Errorf("server: export rooms: %w", err)
	}

	out := struct {
		Rooms []roomExport `yaml:"rooms"`
	}{Rooms: make([]roomExport, 0, len(rooms))}

	for _, r := range rooms {
		mods, err := st.NonTx().GetModerators(r.ID)
		if err != nil {
			return nil, fmt.Errorf("server: export rooms: %w", err)
		}
		out.Rooms = append(out.Rooms, roomExport{
			ID:          r.ID,
			Name:        r.Name,
			Creator:     r.Creator,
			Type:        r.RoomType,
			Description: r.Description,
			Moderators:  mods,
		})
	}

	return yaml.Marshal(out)
}
