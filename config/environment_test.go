package config

import "testing"

func TestAppEnvironmentAliases(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", environmentDevelopment},
		{"prod", environmentProduction},
		{"PROD", environmentProduction},
		{" staging ", environmentStaging},
		{"qa", "qa"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv(appEnvVar, tt.raw)
			if got := AppEnvironment(); got != tt.want {
				t.Errorf("AppEnvironment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(environmentProduction) || !IsProductionLike(environmentStaging) {
		t.Error("production and staging should be production-like")
	}
	if IsProductionLike(environmentDevelopment) {
		t.Error("development should not be production-like")
	}
}
