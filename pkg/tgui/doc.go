// Package tgui renders outbound messages:
//   - HTML-safe text for Telegram ParseMode="HTML" (auto escaping)
//   - a line builder that falls back to plain text for push and webhooks
//   - inline response keyboards and their compact callback data
package tgui
