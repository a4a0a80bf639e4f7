package localrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/april-dev/sisyphus/internal/configimage"
)

func uniform(arg configimage.Argument) configimage.ArgumentValues {
	return configimage.ArgumentValues{Uniform: &arg}
}

func TestRenderArgvResolvesStringArguments(t *testing.T) {
	app := configimage.Application{
		Args: []configimage.ArgumentValues{
			uniform(configimage.Argument{Kind: configimage.ArgumentString, String: "serve"}),
		},
	}
	argv, err := RenderArgv(app, []string{"--extra"})
	require.NoError(t, err)
	assert.Equal(t, []string{"serve", "--extra"}, argv)
}

func TestRenderArgvPortUsesConfiguredNumberByDefault(t *testing.T) {
	t.Setenv("PORT_HTTP", "")
	app := configimage.Application{
		Args: []configimage.ArgumentValues{
			uniform(configimage.Argument{Kind: configimage.ArgumentPort, Port: configimage.Port{Name: "http", Number: 8080}}),
		},
	}
	argv, err := RenderArgv(app, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"8080"}, argv)
}

func TestRenderArgvPortOverrideFromEnv(t *testing.T) {
	t.Setenv("PORT_HTTP", "9090")
	app := configimage.Application{
		Args: []configimage.ArgumentValues{
			uniform(configimage.Argument{Kind: configimage.ArgumentPort, Port: configimage.Port{Name: "http", Number: 8080}}),
		},
	}
	argv, err := RenderArgv(app, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"9090"}, argv)
}

func TestRenderEnvResolvesStringVariableFromHostEnv(t *testing.T) {
	t.Setenv("API_KEY", "secret-value")
	app := configimage.Application{
		Env: map[string]configimage.ArgumentValues{
			"API_KEY": uniform(configimage.Argument{Kind: configimage.ArgumentStringVariable, StringVariable: configimage.StringVariable{Name: "api_key"}}),
		},
	}
	env, err := RenderEnv(app, "team-a")
	require.NoError(t, err)
	assert.Contains(t, env, "API_KEY=secret-value")
	assert.Contains(t, env, "NAMESPACE=team-a")
}

func TestRenderArgvVaryingWithoutUnselectedEntryIsOmitted(t *testing.T) {
	app := configimage.Application{
		Args: []configimage.ArgumentValues{
			{Varying: map[string]configimage.Argument{
				"prod": {Kind: configimage.ArgumentString, String: "prod-flag"},
			}},
		},
	}
	argv, err := RenderArgv(app, nil)
	require.NoError(t, err)
	assert.Empty(t, argv)
}
