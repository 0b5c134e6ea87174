package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/health"
	"github.com/nugget/hearth/internal/meals"
	"github.com/nugget/hearth/internal/sleep"
)

// Messages returned by the delete tools. The model relays these to the
// user, so they are complete sentences.
const (
	msgMealNotFound  = "Meal not found or already deleted."
	msgNoMeals       = "No meals to delete."
	msgSleepNotFound = "Sleep session not found or already deleted."
	msgNoSleep       = "No sleep sessions to delete."
)

var mealTypes = []string{"breakfast", "lunch", "dinner", "snack"}

func healthHandlers() map[string]handler {
	return map[string]handler{
		"log_meal":              tool[meals.Meal]{decode: decodeMeal, run: runLogMeal},
		"get_meals_today":       tool[struct{}]{decode: none, run: runMealsToday},
		"get_meals_range":       tool[dateRange]{decode: decodeDateRange, run: runMealsRange},
		"delete_meal":           tool[*int64]{decode: decodeID("meal_id"), run: runDeleteMeal},
		"log_sleep":             tool[sleep.Session]{decode: decodeSleep, run: runLogSleep},
		"get_sleep_range":       tool[dateRange]{decode: decodeDateRange, run: runSleepRange},
		"delete_sleep":          tool[*int64]{decode: decodeID("sleep_id"), run: runDeleteSleep},
		"get_health_profile":    tool[struct{}]{decode: none, run: runGetProfile},
		"update_health_profile": tool[profilePatch]{decode: decodeProfilePatch, run: runUpdateProfile},
	}
}

// Meals

func decodeMeal(a Args, now time.Time) (meals.Meal, error) {
	desc, err := a.RequiredString("description")
	if err != nil {
		return meals.Meal{}, err
	}
	m := meals.Meal{
		Description: desc,
		Calories:    a.Float("calories"),
		ProteinG:    a.Float("protein_g"),
		CarbsG:      a.Float("carbs_g"),
		FatG:        a.Float("fat_g"),
		FiberG:      a.Float("fiber_g"),
		EatenAt:     now,
	}
	if mt := strings.ToLower(a.String("meal_type")); mt != "" {
		if !slices.Contains(mealTypes, mt) {
			return meals.Meal{}, &ArgError{Field: "meal_type", Reason: "must be one of " + strings.Join(mealTypes, ", ")}
		}
		m.MealType = mt
	}
	at, err := a.Time("eaten_at", now)
	if err != nil {
		return meals.Meal{}, err
	}
	if at != nil {
		m.EatenAt = at.In(now.Location())
	}
	m.Date = m.EatenAt.Format(meals.DateLayout)
	return m, nil
}

func runLogMeal(ctx context.Context, e *Executor, m meals.Meal) (any, error) {
	if e.deps.Meals == nil {
		return nil, errNotConfigured("meal tracking")
	}
	m.ChatID = e.chatID
	if err := e.deps.Meals.Add(ctx, &m); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"meal":    m,
		"message": fmt.Sprintf("Logged %s.", m.Description),
	}, nil
}

func runMealsToday(ctx context.Context, e *Executor, _ struct{}) (any, error) {
	if e.deps.Meals == nil {
		return nil, errNotConfigured("meal tracking")
	}
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	date := now.Format(meals.DateLayout)
	list, err := e.deps.Meals.ForDate(ctx, e.chatID, date)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return map[string]any{"found": false, "date": date, "message": "No meals logged today."}, nil
	}
	return map[string]any{
		"found":  true,
		"date":   date,
		"meals":  list,
		"totals": meals.Sum(list),
	}, nil
}

type dateRange struct {
	start, end string
}

func decodeDateRange(a Args, _ time.Time) (dateRange, error) {
	start, err := a.RequiredDate("start_date")
	if err != nil {
		return dateRange{}, err
	}
	end, err := a.RequiredDate("end_date")
	if err != nil {
		return dateRange{}, err
	}
	if end < start {
		return dateRange{}, &ArgError{Field: "end_date", Reason: "must not be before start_date"}
	}
	return dateRange{start: start, end: end}, nil
}

type dayTotals struct {
	Date string `json:"date"`
	meals.Totals
}

func runMealsRange(ctx context.Context, e *Executor, r dateRange) (any, error) {
	if e.deps.Meals == nil {
		return nil, errNotConfigured("meal tracking")
	}
	list, err := e.deps.Meals.Range(ctx, e.chatID, r.start, r.end)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return map[string]any{
			"found":   false,
			"message": fmt.Sprintf("No meals logged between %s and %s.", r.start, r.end),
		}, nil
	}

	var days []dayTotals
	for i := 0; i < len(list); {
		j := i
		for j < len(list) && list[j].Date == list[i].Date {
			j++
		}
		days = append(days, dayTotals{Date: list[i].Date, Totals: meals.Sum(list[i:j])})
		i = j
	}
	return map[string]any{
		"found":      true,
		"start_date": r.start,
		"end_date":   r.end,
		"meals":      list,
		"daily":      days,
	}, nil
}

// decodeID reads an optional positive integer id.
func decodeID(field string) func(Args, time.Time) (*int64, error) {
	return func(a Args, _ time.Time) (*int64, error) {
		if !a.Has(field) {
			return nil, nil
		}
		n := a.Int(field)
		if n == nil || *n <= 0 {
			return nil, &ArgError{Field: field, Reason: "must be a positive integer"}
		}
		id := int64(*n)
		return &id, nil
	}
}

func runDeleteMeal(ctx context.Context, e *Executor, id *int64) (any, error) {
	if e.deps.Meals == nil {
		return nil, errNotConfigured("meal tracking")
	}
	var (
		m   *meals.Meal
		err error
	)
	if id != nil {
		m, err = e.deps.Meals.Delete(ctx, e.chatID, *id)
	} else {
		m, err = e.deps.Meals.DeleteMostRecent(ctx, e.chatID)
	}
	switch {
	case errors.Is(err, meals.ErrNotFound) && id != nil:
		return map[string]any{"success": false, "message": msgMealNotFound}, nil
	case errors.Is(err, meals.ErrNotFound):
		return map[string]any{"success": false, "message": msgNoMeals}, nil
	case err != nil:
		return nil, err
	}

	msg := fmt.Sprintf("Deleted meal %d: %s.", m.ID, m.Description)
	if id == nil {
		msg = fmt.Sprintf("Deleted the most recent meal (%s, %s).", m.Description, m.Date)
	}
	return map[string]any{"success": true, "message": msg, "meal": m}, nil
}

// Sleep

func decodeSleep(a Args, now time.Time) (sleep.Session, error) {
	s := sleep.Session{
		DurationHours: a.Float("duration_hours"),
		Notes:         a.String("notes"),
	}
	if a.Has("quality") {
		q := a.Int("quality")
		if q == nil || *q < 1 || *q > 10 {
			return sleep.Session{}, &ArgError{Field: "quality", Reason: "must be an integer from 1 to 10"}
		}
		s.Quality = q
	}

	var err error
	if s.WakeTime, err = a.Time("wake_time", now); err != nil {
		return sleep.Session{}, err
	}
	ref := now
	if s.WakeTime != nil {
		ref = s.WakeTime.In(now.Location())
	}
	if s.Bedtime, err = a.Time("bedtime", ref); err != nil {
		return sleep.Session{}, err
	}
	if s.Bedtime != nil && s.WakeTime != nil && s.Bedtime.After(*s.WakeTime) {
		// A clock-only bedtime belongs to the night before.
		prev := s.Bedtime.AddDate(0, 0, -1)
		s.Bedtime = &prev
	}
	if s.DurationHours == nil && (s.Bedtime == nil || s.WakeTime == nil) {
		return sleep.Session{}, &ArgError{Field: "duration_hours", Reason: "is required unless both bedtime and wake_time are given"}
	}

	if s.Date, err = a.Date("date"); err != nil {
		return sleep.Session{}, err
	}
	if s.Date == "" {
		s.Date = ref.Format(time.DateOnly)
	}
	return s, nil
}

func runLogSleep(ctx context.Context, e *Executor, s sleep.Session) (any, error) {
	if e.deps.Sleep == nil {
		return nil, errNotConfigured("sleep tracking")
	}
	s.ChatID = e.chatID
	if err := e.deps.Sleep.Add(ctx, &s); err != nil {
		return nil, err
	}

	if e.deps.Digest != nil {
		chatID := e.chatID
		e.detach(ctx, "digest after sleep", func(ctx context.Context) error {
			return e.deps.Digest.TriggerAfterSleep(ctx, chatID)
		})
	}

	msg := fmt.Sprintf("Logged sleep for %s.", s.Date)
	if s.DurationHours != nil {
		msg = fmt.Sprintf("Logged %.1f hours of sleep for %s.", *s.DurationHours, s.Date)
	}
	return map[string]any{"success": true, "sleep": s, "message": msg}, nil
}

func runSleepRange(ctx context.Context, e *Executor, r dateRange) (any, error) {
	if e.deps.Sleep == nil {
		return nil, errNotConfigured("sleep tracking")
	}
	list, err := e.deps.Sleep.Range(ctx, e.chatID, r.start, r.end)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return map[string]any{
			"found":   false,
			"message": fmt.Sprintf("No sleep logged between %s and %s.", r.start, r.end),
		}, nil
	}

	out := map[string]any{
		"found":      true,
		"start_date": r.start,
		"end_date":   r.end,
		"sessions":   list,
	}
	var total float64
	var n int
	for _, s := range list {
		if s.DurationHours != nil {
			total += *s.DurationHours
			n++
		}
	}
	if n > 0 {
		out["average_hours"] = math.Round(total/float64(n)*100) / 100
	}
	return out, nil
}

func runDeleteSleep(ctx context.Context, e *Executor, id *int64) (any, error) {
	if e.deps.Sleep == nil {
		return nil, errNotConfigured("sleep tracking")
	}
	var (
		s   *sleep.Session
		err error
	)
	if id != nil {
		s, err = e.deps.Sleep.Delete(ctx, e.chatID, *id)
	} else {
		s, err = e.deps.Sleep.DeleteMostRecent(ctx, e.chatID)
	}
	switch {
	case errors.Is(err, sleep.ErrNotFound) && id != nil:
		return map[string]any{"success": false, "message": msgSleepNotFound}, nil
	case errors.Is(err, sleep.ErrNotFound):
		return map[string]any{"success": false, "message": msgNoSleep}, nil
	case err != nil:
		return nil, err
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Deleted sleep session %d for %s.", s.ID, s.Date),
		"sleep":   s,
	}, nil
}

// Health profile

func runGetProfile(ctx context.Context, e *Executor, _ struct{}) (any, error) {
	if e.deps.Health == nil {
		return nil, errNotConfigured("health profile")
	}
	p, err := e.deps.Health.Get(ctx, e.chatID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return map[string]any{"found": false, "message": "No health profile saved yet."}, nil
	}
	return map[string]any{"found": true, "profile": p}, nil
}

// profilePatch holds the fields a call supplied; nil means unchanged.
type profilePatch struct {
	age            *int
	heightCM       *float64
	weightKG       *float64
	calorieTarget  *float64
	proteinTargetG *float64
	sex            *string
	activity       *string
	goals          *string
	restrictions   *string
	fields         []string
}

var activityLevels = []string{"sedentary", "light", "moderate", "active", "very_active"}

func decodeProfilePatch(a Args, _ time.Time) (profilePatch, error) {
	var p profilePatch
	note := func(field string) { p.fields = append(p.fields, field) }
	str := func(field string) *string {
		if !a.Has(field) {
			return nil
		}
		s := a.String(field)
		note(field)
		return &s
	}
	num := func(field string) (*float64, error) {
		if !a.Has(field) {
			return nil, nil
		}
		v := a.Float(field)
		if v == nil || *v <= 0 {
			return nil, &ArgError{Field: field, Reason: "must be a positive number"}
		}
		note(field)
		return v, nil
	}

	if a.Has("age") {
		p.age = a.Int("age")
		if p.age == nil || *p.age <= 0 || *p.age > 150 {
			return profilePatch{}, &ArgError{Field: "age", Reason: "must be a whole number of years"}
		}
		note("age")
	}
	var err error
	if p.heightCM, err = num("height_cm"); err != nil {
		return profilePatch{}, err
	}
	if p.weightKG, err = num("weight_kg"); err != nil {
		return profilePatch{}, err
	}
	if p.calorieTarget, err = num("calorie_target"); err != nil {
		return profilePatch{}, err
	}
	if p.proteinTargetG, err = num("protein_target_g"); err != nil {
		return profilePatch{}, err
	}
	p.sex = str("sex")
	p.goals = str("goals")
	p.restrictions = str("dietary_restrictions")
	if p.activity = str("activity_level"); p.activity != nil && *p.activity != "" {
		*p.activity = strings.ToLower(*p.activity)
		if !slices.Contains(activityLevels, *p.activity) {
			return profilePatch{}, &ArgError{Field: "activity_level", Reason: "must be one of " + strings.Join(activityLevels, ", ")}
		}
	}
	if len(p.fields) == 0 {
		return profilePatch{}, fmt.Errorf("no profile fields given")
	}
	return p, nil
}

func (p profilePatch) apply(pr *health.Profile) {
	if p.age != nil {
		pr.Age = p.age
	}
	if p.heightCM != nil {
		pr.HeightCM = p.heightCM
	}
	if p.weightKG != nil {
		pr.WeightKG = p.weightKG
	}
	if p.calorieTarget != nil {
		pr.CalorieTarget = p.calorieTarget
	}
	if p.proteinTargetG != nil {
		pr.ProteinTargetG = p.proteinTargetG
	}
	if p.sex != nil {
		pr.Sex = *p.sex
	}
	if p.activity != nil {
		pr.ActivityLevel = *p.activity
	}
	if p.goals != nil {
		pr.Goals = *p.goals
	}
	if p.restrictions != nil {
		pr.DietaryRestrictions = *p.restrictions
	}
}

func runUpdateProfile(ctx context.Context, e *Executor, p profilePatch) (any, error) {
	if e.deps.Health == nil {
		return nil, errNotConfigured("health profile")
	}
	updated, err := e.deps.Health.Update(ctx, e.chatID, p.apply)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"updated": p.fields,
		"profile": updated,
	}, nil
}
