// Package choom is the client for the companion service: directory,
// chats, streaming LLM turns, weather, health, and queued
// notifications.
package choom

import "time"

// Choom is one companion directory entry. Name is the case-insensitive
// routing key.
type Choom struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Voice       string         `json:"voice,omitempty"`
	LLMModel    string         `json:"llmModel,omitempty"`
	LLMEndpoint string         `json:"llmEndpoint,omitempty"`
	ImageConfig map[string]any `json:"imageSettings,omitempty"`
}

// ImageRef is one generated image from a turn. URL may be a data URI;
// when it is empty the image is fetched by ID.
type ImageRef struct {
	URL    string `json:"url"`
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// ToolCall records a tool invocation the model made mid-turn.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult records the outcome of a tool call.
type ToolResult struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

// Turn is the accumulated result of one streamed LLM exchange.
type Turn struct {
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Images      []ImageRef
	ChatID      string
}

// Weather is the current-conditions record the companion service
// proxies.
type Weather struct {
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	WindSpeed   float64 `json:"windSpeed"`
	Humidity    float64 `json:"humidity"`
	FeelsLike   float64 `json:"feelsLike"`
	Location    string  `json:"location"`
}

// Notification is one queued outbound message a companion produced
// while the bridge was not the active surface.
type Notification struct {
	ID           string `json:"id"`
	ChoomID      string `json:"choomId"`
	Message      string `json:"message"`
	IncludeAudio bool   `json:"includeAudio"`
}

// directoryTTL bounds how stale the cached companion directory may be
// before an access refreshes it.
const directoryTTL = 60 * time.Second

// userActiveWindow is how recently the owner must have messaged a
// companion for autonomous sends to that companion to be deferred.
const userActiveWindow = 120 * time.Second
