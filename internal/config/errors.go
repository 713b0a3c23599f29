package config

import "errors"

var (
	errMissingModelConfig = errors.New("config: REASONING_MODEL_API_KEY or REASONING_MODEL_COMMAND must be set")
	errBadPortRange       = errors.New("config: PREVIEW_PORT_RANGE_END must be greater than PREVIEW_PORT_RANGE_START")
)
