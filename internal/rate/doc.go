// Package rate provides Redis-backed fixed-window counters that throttle
// password guessing and OTP delivery.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on the first hit. Key prefixes:
//   - mfa:rl:pw:   failed password checks per username
//   - mfa:rl:pwi:  failed password checks per client IP
//   - mfa:rl:otp:  OTP deliveries per phone number
//
// # What this package must NOT do
//
//   - Decide what happens to an attempt once it is limited; the Engine does.
//   - Be imported outside this module.
package rate
