// Package logx configures the userbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink: WARN+ records posted to a log chat through
//     the user session, rate limited so a crash loop can't flood the account
package logx
