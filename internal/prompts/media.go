package prompts

// ImageOnlyPrompt stands in for the text of a message that carries only
// an image.
const ImageOnlyPrompt = "The user sent this image without a caption. If it shows food, estimate what it is and log it as a meal; otherwise describe it briefly and ask what they would like to do with it."
