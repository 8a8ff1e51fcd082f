package config

import "time"

// Service defaults
const (
	// DefaultServerURL is the public distributed segmentation service
	DefaultServerURL = "https://dss.itksnap.org"

	// DefaultPollInterval is how often tickets and connection state are refreshed
	DefaultPollInterval = 5 * time.Second

	// MinPollInterval keeps background polls from hammering the service
	MinPollInterval = time.Second

	// DefaultHTTPTimeout bounds a single request
	DefaultHTTPTimeout = 30 * time.Second
)
