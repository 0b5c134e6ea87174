package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/nugget/hearth/internal/prefs"
)

func prefsHandlers() map[string]handler {
	return map[string]handler{
		"get_preferences":    tool[struct{}]{decode: none, run: runGetPreferences},
		"update_preferences": tool[prefsPatch]{decode: decodePrefsPatch, run: runUpdatePreferences},
	}
}

func runGetPreferences(ctx context.Context, e *Executor, _ struct{}) (any, error) {
	if e.deps.Prefs == nil {
		return nil, errNotConfigured("preferences")
	}
	p, err := e.deps.Prefs.Get(ctx, e.chatID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"found": true, "preferences": p}, nil
}

type prefsPatch struct {
	lat, lon      *float64
	locationName  *string
	timezone      *string
	digestTime    *string
	digestEnabled *bool
	fields        []string
}

func decodePrefsPatch(a Args, _ time.Time) (prefsPatch, error) {
	var p prefsPatch
	if a.Has("latitude") || a.Has("longitude") {
		p.lat, p.lon = a.Float("latitude"), a.Float("longitude")
		if p.lat == nil || p.lon == nil {
			return prefsPatch{}, &ArgError{Field: "latitude", Reason: "and longitude must both be numbers"}
		}
		p.fields = append(p.fields, "latitude", "longitude")
	}
	str := func(field string) *string {
		if !a.Has(field) {
			return nil
		}
		s := a.String(field)
		p.fields = append(p.fields, field)
		return &s
	}
	p.locationName = str("location_name")
	p.timezone = str("timezone")
	p.digestTime = str("digest_time")
	if a.Has("digest_enabled") {
		b, ok := a["digest_enabled"].(bool)
		if !ok {
			return prefsPatch{}, &ArgError{Field: "digest_enabled", Reason: "must be true or false"}
		}
		p.digestEnabled = &b
		p.fields = append(p.fields, "digest_enabled")
	}
	if len(p.fields) == 0 {
		return prefsPatch{}, fmt.Errorf("no preference fields given")
	}
	return p, nil
}

func (p prefsPatch) apply(pr *prefs.Preferences) {
	if p.lat != nil {
		pr.Latitude, pr.Longitude = p.lat, p.lon
	}
	if p.locationName != nil {
		pr.LocationName = *p.locationName
	}
	if p.timezone != nil {
		pr.Timezone = *p.timezone
	}
	if p.digestTime != nil {
		pr.DigestTime = *p.digestTime
	}
	if p.digestEnabled != nil {
		pr.DigestEnabled = *p.digestEnabled
	}
}

// affectsSchedule reports whether the patch moves the daily digest.
func (p prefsPatch) affectsSchedule() bool {
	return p.timezone != nil || p.digestTime != nil || p.digestEnabled != nil
}

func runUpdatePreferences(ctx context.Context, e *Executor, patch prefsPatch) (any, error) {
	if e.deps.Prefs == nil {
		return nil, errNotConfigured("preferences")
	}
	p, err := e.deps.Prefs.Update(ctx, e.chatID, patch.apply)
	if err != nil {
		return nil, err
	}
	if patch.timezone != nil {
		e.resetLocation()
	}

	out := map[string]any{
		"success":     true,
		"updated":     patch.fields,
		"preferences": p,
	}
	if patch.affectsSchedule() && e.deps.Schedule != nil {
		if err := e.deps.Schedule.Reschedule(ctx, e.chatID, p); err != nil {
			e.logger.Warn("digest reschedule failed", "error", err)
			out["warning"] = "Preferences saved, but the digest schedule could not be updated."
		}
	}
	return out, nil
}
