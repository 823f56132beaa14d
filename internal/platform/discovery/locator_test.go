package discovery

import (
	"testing"

	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
)

func TestResolveParsesControlDescriptor(t *testing.T) {
	locator := MapLocator(map[string]string{ControlDescriptorEnv: "url: 'localhost:9000'"})

	d, err := locator.Resolve(ControlDescriptorEnv)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.URL != "localhost:9000" {
		t.Fatalf("url = %q, want %q", d.URL, "localhost:9000")
	}
}

func TestResolveMissingIsConfigurationError(t *testing.T) {
	locator := MapLocator(nil)

	_, err := locator.Resolve(ControlDescriptorEnv)
	if err == nil {
		t.Fatal("expected error")
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeConfiguration {
		t.Fatalf("code = %q, want %q", code, apperrors.CodeConfiguration)
	}
}

func TestResolveMalformedIsConfigurationError(t *testing.T) {
	locator := MapLocator(map[string]string{ControlDescriptorEnv: "url: localhost:9000"})

	_, err := locator.Resolve(ControlDescriptorEnv)
	if err == nil {
		t.Fatal("expected error")
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeConfiguration {
		t.Fatalf("code = %q, want %q", code, apperrors.CodeConfiguration)
	}
}

func TestResolveOptional(t *testing.T) {
	t.Run("absent disables", func(t *testing.T) {
		_, ok, err := MapLocator(nil).ResolveOptional(LoggingDescriptorEnv)
		if err != nil {
			t.Fatalf("resolve optional: %v", err)
		}
		if ok {
			t.Fatal("expected absent descriptor")
		}
	})

	t.Run("present", func(t *testing.T) {
		locator := MapLocator(map[string]string{LoggingDescriptorEnv: "url: 'logs:9001'"})
		d, ok, err := locator.ResolveOptional(LoggingDescriptorEnv)
		if err != nil {
			t.Fatalf("resolve optional: %v", err)
		}
		if !ok || d.URL != "logs:9001" {
			t.Fatalf("descriptor = %+v ok=%v", d, ok)
		}
	})

	t.Run("malformed fails", func(t *testing.T) {
		locator := MapLocator(map[string]string{LoggingDescriptorEnv: "nonsense"})
		_, ok, err := locator.ResolveOptional(LoggingDescriptorEnv)
		if err == nil {
			t.Fatal("expected error")
		}
		if ok {
			t.Fatal("expected ok=false on error")
		}
		if code := apperrors.CodeOf(err); code != apperrors.CodeConfiguration {
			t.Fatalf("code = %q, want %q", code, apperrors.CodeConfiguration)
		}
	})
}

func TestEnvLocatorReadsProcessEnvironment(t *testing.T) {
	t.Setenv(ControlDescriptorEnv, "url: 'env-host:7000'")

	d, err := EnvLocator().Resolve(ControlDescriptorEnv)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.URL != "env-host:7000" {
		t.Fatalf("url = %q", d.URL)
	}

	var zero Locator
	if _, err := zero.Resolve(ControlDescriptorEnv); err != nil {
		t.Fatalf("zero locator should fall back to os.LookupEnv: %v", err)
	}
}
