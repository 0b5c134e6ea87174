// Package prompts contains all model prompt text and fixed user-facing
// strings used by Hearth.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the interpolated
// prompt.
package prompts
