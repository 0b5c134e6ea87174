// Package tools defines the tools the model may call and executes
// them on behalf of one chat.
//
// The catalog is fixed at build time. Each definition has a matching
// handler; CheckConsistency verifies the two sets agree.
package tools

import "slices"

// Definition describes one tool to the model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Schema renders the definition in the OpenAI function format that
// llm.Request.Tools carries.
func (d Definition) Schema() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters,
		},
	}
}

// Schemas renders a list of definitions for a model request.
func Schemas(defs []Definition) []map[string]any {
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Schema())
	}
	return out
}

// Names returns the tool names in order.
func Names(defs []Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Name)
	}
	return out
}

// Catalog returns the primary tool definitions in presentation order.
func Catalog() []Definition {
	return slices.Clone(catalog)
}

// digestToolNames are the read-only tools the digest health section
// may call.
var digestToolNames = []string{"get_meals_range", "get_sleep_range"}

// DigestCatalog returns the definitions available to the digest
// health sub-loop.
func DigestCatalog() []Definition {
	var out []Definition
	for _, d := range catalog {
		if slices.Contains(digestToolNames, d.Name) {
			out = append(out, d)
		}
	}
	return out
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

var noParams = object(map[string]any{})

var catalog = []Definition{
	// Meals
	{
		Name: "log_meal",
		Description: "Record a meal or snack the user says they ate. Use whenever the user reports eating or drinking something. " +
			"Estimate macros when you reasonably can; leave a field out when unknown rather than guessing zero.",
		Parameters: object(map[string]any{
			"description": prop("string", "What was eaten, in the user's words (e.g. \"banana\", \"chicken caesar salad\")"),
			"calories":    prop("number", "Estimated kilocalories"),
			"protein_g":   prop("number", "Estimated protein in grams"),
			"carbs_g":     prop("number", "Estimated carbohydrates in grams"),
			"fat_g":       prop("number", "Estimated fat in grams"),
			"fiber_g":     prop("number", "Estimated fiber in grams"),
			"meal_type":   enum("Kind of meal", "breakfast", "lunch", "dinner", "snack"),
			"eaten_at":    prop("string", "When it was eaten: RFC 3339 timestamp or HH:MM today. Default: now"),
		}, "description"),
	},
	{
		Name:        "get_meals_today",
		Description: "List everything the user has logged eating today, with calorie and macro totals. Use when asked what they ate today or how much is left in their budget.",
		Parameters:  noParams,
	},
	{
		Name:        "get_meals_range",
		Description: "List meals between two dates inclusive, with per-day totals. Use for questions about past days or trends (\"this week\", \"yesterday\").",
		Parameters: object(map[string]any{
			"start_date": prop("string", "First day, YYYY-MM-DD"),
			"end_date":   prop("string", "Last day, YYYY-MM-DD"),
		}, "start_date", "end_date"),
	},
	{
		Name:        "delete_meal",
		Description: "Delete a logged meal. Use when the user says a meal was logged by mistake. Pass meal_id when known; without it the most recently logged meal is deleted.",
		Parameters: object(map[string]any{
			"meal_id": prop("integer", "ID of the meal to delete"),
		}),
	},

	// Sleep
	{
		Name: "log_sleep",
		Description: "Record a night of sleep or a nap the user reports. Provide duration_hours, or bedtime and wake_time. " +
			"Logging the night's sleep may also send the user's morning digest.",
		Parameters: object(map[string]any{
			"date":           prop("string", "Date the user woke up, YYYY-MM-DD. Default: today"),
			"bedtime":        prop("string", "When they went to bed: RFC 3339 timestamp or HH:MM"),
			"wake_time":      prop("string", "When they woke up: RFC 3339 timestamp or HH:MM"),
			"duration_hours": prop("number", "Hours slept"),
			"quality":        prop("integer", "Self-rated quality from 1 (awful) to 10 (excellent)"),
			"notes":          prop("string", "Anything else the user mentioned (woke up at 3am, vivid dreams)"),
		}),
	},
	{
		Name:        "get_sleep_range",
		Description: "List sleep sessions between two dates inclusive with the average duration. Use for questions about how the user has been sleeping.",
		Parameters: object(map[string]any{
			"start_date": prop("string", "First day, YYYY-MM-DD"),
			"end_date":   prop("string", "Last day, YYYY-MM-DD"),
		}, "start_date", "end_date"),
	},
	{
		Name:        "delete_sleep",
		Description: "Delete a logged sleep session. Pass sleep_id when known; without it the most recently logged session is deleted.",
		Parameters: object(map[string]any{
			"sleep_id": prop("integer", "ID of the sleep session to delete"),
		}),
	},

	// Health profile
	{
		Name:        "get_health_profile",
		Description: "Read the user's health profile (age, height, weight, goals, targets, dietary restrictions). Use before giving personalized nutrition or fitness advice.",
		Parameters:  noParams,
	},
	{
		Name:        "update_health_profile",
		Description: "Save changes to the user's health profile when they tell you about themselves (\"I weigh 80kg now\", \"I'm vegetarian\"). Only the fields you pass are changed.",
		Parameters: object(map[string]any{
			"age":                  prop("integer", "Age in years"),
			"sex":                  prop("string", "Sex, as the user describes it"),
			"height_cm":            prop("number", "Height in centimeters"),
			"weight_kg":            prop("number", "Weight in kilograms"),
			"activity_level":       enum("Typical activity", "sedentary", "light", "moderate", "active", "very_active"),
			"goals":                prop("string", "Health goals in the user's words"),
			"dietary_restrictions": prop("string", "Allergies, intolerances or diets"),
			"calorie_target":       prop("number", "Daily calorie target"),
			"protein_target_g":     prop("number", "Daily protein target in grams"),
		}),
	},

	// Preferences
	{
		Name:        "get_preferences",
		Description: "Read the user's settings: location, time zone, and daily digest time. Use when asked about their settings or before changing them.",
		Parameters:  noParams,
	},
	{
		Name:        "update_preferences",
		Description: "Change the user's settings when they tell you where they live, their time zone, or when (or whether) they want the daily digest. Only the fields you pass are changed.",
		Parameters: object(map[string]any{
			"latitude":       prop("number", "Latitude in decimal degrees"),
			"longitude":      prop("number", "Longitude in decimal degrees"),
			"location_name":  prop("string", "Human-readable place name, e.g. \"Austin, TX\""),
			"timezone":       prop("string", "IANA time zone, e.g. America/Chicago"),
			"digest_time":    prop("string", "Local time for the daily digest, HH:MM (24h)"),
			"digest_enabled": prop("boolean", "Whether the daily digest is sent"),
		}),
	},

	// Notes
	{
		Name:        "list_note_categories",
		Description: "List the note categories and how many notes each holds. Use to decide where a new note belongs.",
		Parameters:  noParams,
	},
	{
		Name:        "list_notes",
		Description: "List the notes in one category, most recently changed first.",
		Parameters: object(map[string]any{
			"category": prop("string", "Category name from list_note_categories"),
		}, "category"),
	},
	{
		Name:        "read_note",
		Description: "Read the full text of one note by path. Use after list_notes or search_notes found it.",
		Parameters: object(map[string]any{
			"path": prop("string", "Note path, e.g. ideas/garden-plan.md"),
		}, "path"),
	},
	{
		Name:        "create_note",
		Description: "Create a new note when the user asks you to write something down for later. Fails if a note with the same title exists; use update_note for that.",
		Parameters: object(map[string]any{
			"category": prop("string", "Category name from list_note_categories"),
			"title":    prop("string", "Note title"),
			"content":  prop("string", "Markdown body"),
		}, "category", "title"),
	},
	{
		Name:        "update_note",
		Description: "Change an existing note: append to it (default) or replace its content entirely.",
		Parameters: object(map[string]any{
			"path":    prop("string", "Note path, e.g. ideas/garden-plan.md"),
			"content": prop("string", "Markdown to append or the full replacement"),
			"mode":    enum("append (default) or replace", "append", "replace"),
		}, "path", "content"),
	},
	{
		Name:        "append_daily_note",
		Description: "Add a timestamped entry to today's daily note. Use for quick journal-style thoughts the user wants recorded without a title.",
		Parameters: object(map[string]any{
			"text": prop("string", "Entry text"),
		}, "text"),
	},
	{
		Name:        "search_notes",
		Description: "Find notes containing a word or phrase. Use when the user asks what they wrote about something.",
		Parameters: object(map[string]any{
			"query": prop("string", "Text to search for (case-insensitive)"),
			"limit": prop("integer", "Maximum matching lines. Default: 20"),
		}, "query"),
	},
	{
		Name:        "list_tasks",
		Description: "List markdown to-do items (\"- [ ] ...\") from the notes. Use when the user asks what is on their to-do list.",
		Parameters: object(map[string]any{
			"scope":        prop("string", "Category or note path to limit the search. Default: all notes"),
			"include_done": prop("boolean", "Include completed tasks. Default: false"),
		}),
	},

	// Email
	{
		Name:        "send_email",
		Description: "Send an email on the user's behalf when they explicitly ask. Recipients may be addresses or contact names from the address book. The body is markdown.",
		Parameters: object(map[string]any{
			"to":      prop("string", "Comma-separated addresses or contact names"),
			"cc":      prop("string", "Comma-separated addresses or contact names"),
			"subject": prop("string", "Subject line"),
			"body":    prop("string", "Message body in markdown"),
		}, "to", "subject", "body"),
	},
	{
		Name:        "check_email",
		Description: "List recent messages in the user's inbox (sender, subject, date). Use when the user asks about new or recent email.",
		Parameters: object(map[string]any{
			"unseen_only": prop("boolean", "Only unread messages. Default: false"),
			"limit":       prop("integer", "Maximum messages. Default: 10"),
			"folder":      prop("string", "Mailbox name. Default: INBOX"),
		}),
	},

	// Calendar
	{
		Name:        "list_events",
		Description: "List upcoming calendar events. Use when the user asks what is on their schedule.",
		Parameters: object(map[string]any{
			"days": prop("integer", "How many days ahead, starting today. Default: 1, maximum 14"),
		}),
	},

	// Web
	{
		Name:        "web_fetch",
		Description: "Fetch a web page and return its readable text. Use when the user shares a link or asks about the content of a specific URL.",
		Parameters: object(map[string]any{
			"url":       prop("string", "URL to fetch"),
			"max_chars": prop("integer", "Maximum characters of text to return"),
		}, "url"),
	},
	{
		Name:        "web_search",
		Description: "Search the web and return titles, links and snippets. Use for current events or facts you do not know; follow up with web_fetch to read a result.",
		Parameters: object(map[string]any{
			"query":    prop("string", "Search query"),
			"count":    prop("integer", "Number of results, 1-10. Default: 5"),
			"language": prop("string", "ISO 639-1 language code, e.g. en"),
		}, "query"),
	},

	// Digest
	{
		Name:        "send_digest",
		Description: "Compose and send the daily digest (weather, health summary, headlines) right now. Use only when the user asks for it.",
		Parameters:  noParams,
	},
}
