// Package refresher runs the background loop that keeps the served image
// current: fetch, replace on success, wait a fixed interval, repeat.
package refresher
