// Package host is the variable registry the engine publishes into.
//
// The Registry keeps the declared field definitions, the last value of
// every field, the device connection status and a set of watched
// feedbacks (named conditions). Every mutation is change-detected and
// only real changes reach listeners, which is how the MQTT bridge and
// the WebSocket hub learn what to push.
//
// Thread Safety: all Registry methods are safe for concurrent use.
// Listeners are called synchronously, outside the registry lock.
package host
