package config

import "testing"

func TestAppEnvironmentAliases(t *testing.T) {
	cases := map[string]string{
		"":        environmentDevelopment,
		"prod":    environmentProduction,
		"stag":    environmentStaging,
		"PROD":    environmentProduction,
		"staging": environmentStaging,
		"custom":  "custom",
	}
	for in, want := range cases {
		t.Setenv(appEnvVar, in)
		if got := AppEnvironment(); got != want {
			t.Errorf("APP_ENV=%q: got %q, want %q", in, got, want)
		}
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(environmentProduction) || !IsProductionLike(environmentStaging) {
		t.Error("production and staging must be production-like")
	}
	if IsProductionLike(environmentDevelopment) || IsProductionLike("custom") {
		t.Error("development and unknown environments must not be production-like")
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	paths := map[string]string{environmentProduction: "config/config.production.yml"}

	t.Setenv(appEnvVar, "prod")
	if got := resolveEnvSpecificPath(defaultConfigPath, defaultConfigPath, paths); got != "config/config.production.yml" {
		t.Errorf("default path not redirected: %s", got)
	}
	if got := resolveEnvSpecificPath("custom.yml", defaultConfigPath, paths); got != "custom.yml" {
		t.Errorf("explicit path overridden: %s", got)
	}
}
