package errors

import (
	"fmt"
	"strings"
)

// ConfigurationError is raised when configuration is invalid or missing
type ConfigurationError struct {
	*GatewayError
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{
		GatewayError: &GatewayError{
			Kind:     KindConfig,
			Message:  message,
			ExitCode: ExitConfigError,
		},
	}
}

// MissingEnvVarError is raised when a required environment variable is not set
type MissingEnvVarError struct {
	*GatewayError
}

// NewMissingEnvVarError creates a new missing environment variable error
func NewMissingEnvVarError(varName, description string) *MissingEnvVarError {
	return &MissingEnvVarError{
		GatewayError: &GatewayError{
			Kind:    KindConfig,
			Message: fmt.Sprintf("Required environment variable '%s' is not set", varName),
			Context: &ErrorContext{
				Operation: "Loading configuration",
				Component: "Environment",
				Details: map[string]interface{}{
					"variable":    varName,
					"description": description,
				},
				Suggestions: []string{
					fmt.Sprintf("Export the variable: export %s='your-value'", varName),
					fmt.Sprintf("Add it to llmgate.yaml as %s", envToYAMLKey(varName)),
					"Run 'llmgate config init' to write a starter file",
				},
			},
			ExitCode: ExitConfigError,
		},
	}
}

// envToYAMLKey converts LLMGATE_PROVIDERS_OPENAI_API_KEY to providers.openai.api_key
func envToYAMLKey(envVar string) string {
	key := strings.ToLower(strings.TrimPrefix(envVar, "LLMGATE_"))
	parts := strings.SplitN(key, "_", 3)
	if len(parts) == 3 && parts[0] == "providers" {
		return parts[0] + "." + parts[1] + "." + parts[2]
	}
	return key
}

// InvalidEnvVarError is raised when a setting has an invalid value
type InvalidEnvVarError struct {
	*GatewayError
}

// NewInvalidEnvVarError creates a new invalid setting error
func NewInvalidEnvVarError(varName, value, reason string) *InvalidEnvVarError {
	return &InvalidEnvVarError{
		GatewayError: &GatewayError{
			Kind:    KindConfig,
			Message: fmt.Sprintf("Setting '%s' has an invalid value", varName),
			Context: &ErrorContext{
				Operation: "Validating configuration",
				Component: "Environment",
				Details: map[string]interface{}{
					"variable": varName,
					"value":    value,
					"reason":   reason,
				},
			},
			ExitCode: ExitConfigError,
		},
	}
}

// ConfigFileError is raised when a configuration file cannot be read or parsed
type ConfigFileError struct {
	*GatewayError
}

// NewConfigFileError creates a new config file error
func NewConfigFileError(filePath string, cause error) *ConfigFileError {
	return &ConfigFileError{
		GatewayError: &GatewayError{
			Kind:    KindConfig,
			Message: fmt.Sprintf("Failed to load configuration file: %s", filePath),
			Cause:   cause,
			Context: &ErrorContext{
				Operation: "Loading configuration",
				Component: "Config File",
				Details: map[string]interface{}{
					"file_path": filePath,
				},
				Suggestions: []string{
					"Check that the file exists and is readable",
					"Validate YAML syntax",
				},
			},
			ExitCode: ExitConfigError,
		},
	}
}
