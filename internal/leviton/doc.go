// Package leviton is a client for the My Leviton cloud used by Decora Smart
// Wi-Fi devices.
//
// It covers three concerns:
//   - Authentication (Client.Login), including the two-factor code round
//     trip and transparent token renewal on 401
//   - The device directory (ResidentialAccountID, ResidenceID, ListDevices,
//     GetDevice, SetAttributes)
//   - The realtime push socket (Realtime), which subscribes to every device
//     once the server reports ready and emits StateUpdate values
//
// # Two-Factor Authentication
//
// Login returns ErrTwoFactorRequired when the account needs a code. Call
// Login again with the code. Automatic renewal never has a code, so a
// renewal that hits 2FA surfaces as ErrAuthenticationExpired and the user
// must log in interactively.
//
// # Usage
//
//	client := leviton.NewClient(leviton.Options{})
//	session, err := client.Login(ctx, email, password, "")
//	if errors.Is(err, leviton.ErrTwoFactorRequired) {
//	    session, err = client.Login(ctx, email, password, code)
//	}
//	account, _ := client.ResidentialAccountID(ctx)
//	residence, _ := client.ResidenceID(ctx, account)
//	devices, _ := client.ListDevices(ctx, residence)
//
// # Loose Typing
//
// The cloud sends ids as numbers or strings and state flags as booleans,
// numbers or strings. Device and StateUpdate normalise these on decode.
package leviton
