package internal

import "time"

var OneSecond = 1 * time.Second
var FiveSeconds = 5 * time.Second
var TenSeconds = 10 * time.Second

// DefaultPollInterval is how often the tag reader polls the field when no
// device error forces a backoff.
var DefaultPollInterval = 200 * time.Millisecond
