package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Epoch is the logical start of every resource timeline.
var Epoch = time.UnixMilli(0).UTC()

// TruncateMillis drops sub-millisecond precision. Timelines and every store
// resolve time to the millisecond.
func TruncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// AvailabilityType is the observed state of a single resource.
type AvailabilityType int

const (
	Unknown AvailabilityType = iota
	Up
	Down
	Disabled
)

var availabilityNames = map[AvailabilityType]string{
	Unknown:  "UNKNOWN",
	Up:       "UP",
	Down:     "DOWN",
	Disabled: "DISABLED",
}

func (t AvailabilityType) String() string {
	if name, ok := availabilityNames[t]; ok {
		return name
	}
	return fmt.Sprintf("AvailabilityType(%d)", int(t))
}

// ParseAvailabilityType accepts the canonical upper-case names, case-insensitively.
func ParseAvailabilityType(raw string) (AvailabilityType, error) {
	needle := strings.ToUpper(strings.TrimSpace(raw))
	for t, name := range availabilityNames {
		if name == needle {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("unknown availability type %q", raw)
}

func (t AvailabilityType) MarshalText() ([]byte, error) {
	if _, ok := availabilityNames[t]; !ok {
		return nil, fmt.Errorf("invalid availability type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *AvailabilityType) UnmarshalText(data []byte) error {
	parsed, err := ParseAvailabilityType(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// GroupAvailabilityType is the rolled-up state of a group of resources.
// It deliberately has no UNKNOWN member.
type GroupAvailabilityType int

const (
	GroupEmpty GroupAvailabilityType = iota
	GroupWarn
	GroupDown
	GroupUp
	GroupDisabled
)

var groupNames = map[GroupAvailabilityType]string{
	GroupEmpty:    "EMPTY",
	GroupWarn:     "WARN",
	GroupDown:     "DOWN",
	GroupUp:       "UP",
	GroupDisabled: "DISABLED",
}

func (t GroupAvailabilityType) String() string {
	if name, ok := groupNames[t]; ok {
		return name
	}
	return fmt.Sprintf("GroupAvailabilityType(%d)", int(t))
}

func (t GroupAvailabilityType) MarshalText() ([]byte, error) {
	if _, ok := groupNames[t]; !ok {
		return nil, fmt.Errorf("invalid group availability type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *GroupAvailabilityType) UnmarshalText(data []byte) error {
	needle := strings.ToUpper(strings.TrimSpace(string(data)))
	for v, name := range groupNames {
		if name == needle {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("unknown group availability type %q", string(data))
}

// Interval is a maximal span during which a resource held one state.
// A zero End means the interval is open (still in effect).
type Interval struct {
	ResourceID string           `json:"resource_id"`
	Type       AvailabilityType `json:"type"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
}

// Open reports whether the interval is still in effect.
func (i Interval) Open() bool {
	return i.End.IsZero()
}


func (i Interval) String() string {
	end := "open"
	if !i.Open() {
		end = fmt.Sprintf("%d", i.End.UnixMilli())
	}
	return fmt.Sprintf("%s[%d,%s)", i.Type, i.Start.UnixMilli(), end)
}

type intervalJSON struct {
	ResourceID string           `json:"resource_id"`
	Type       AvailabilityType `json:"type"`
	Start      time.Time        `json:"start"`
	End        *time.Time       `json:"end"`
}

// MarshalJSON encodes an open interval with a null end.
func (i Interval) MarshalJSON() ([]byte, error) {
	out := intervalJSON{ResourceID: i.ResourceID, Type: i.Type, Start: i.Start}
	if !i.Open() {
		end := i.End
		out.End = &end
	}
	return json.Marshal(out)
}

func (i *Interval) UnmarshalJSON(data []byte) error {
	var in intervalJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*i = Interval{ResourceID: in.ResourceID, Type: in.Type, Start: in.Start}
	if in.End != nil {
		i.End = *in.End
	}
	return nil
}

// AvailabilityPoint is one resolved bucket of a sampled query.
type AvailabilityPoint struct {
	Type  AvailabilityType `json:"type"`
	Known bool             `json:"known"`
	Start time.Time        `json:"start"`
	End   time.Time        `json:"end"`
}

// GroupInterval is a derived span of one group availability type.
type GroupInterval struct {
	GroupID string                `json:"group_id,omitempty"`
	Type    GroupAvailabilityType `json:"type"`
	Start   time.Time             `json:"start"`
	End     time.Time             `json:"end"`
}
