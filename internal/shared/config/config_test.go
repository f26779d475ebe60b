package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"ENV", "OBJECT_STORE", "PAPERS_BUCKET", "SOLUTIONS_BUCKET", "MAX_UPLOAD_BYTES", "ALLOW_OVERWRITE", "AUTO_MIGRATE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Env != "dev" {
		t.Fatalf("expected dev env, got %q", cfg.Env)
	}
	if cfg.ObjectStoreType != "local" {
		t.Fatalf("expected local store, got %q", cfg.ObjectStoreType)
	}
	if cfg.PapersBucket != "papers" || cfg.SolutionsBucket != "solutions" {
		t.Fatalf("unexpected buckets %q %q", cfg.PapersBucket, cfg.SolutionsBucket)
	}
	if cfg.MaxUploadBytes != 50<<20 {
		t.Fatalf("expected 50 MiB limit, got %d", cfg.MaxUploadBytes)
	}
	if cfg.AllowOverwrite {
		t.Fatalf("expected overwrite disabled by default")
	}
	if !cfg.AutoMigrate {
		t.Fatalf("expected auto migrate enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("OBJECT_STORE", "GCS")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("ALLOW_OVERWRITE", "true")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("UPLOAD_RATE_PER_MIN", "not-a-number")

	cfg := Load()
	if cfg.Env != "production" {
		t.Fatalf("expected production, got %q", cfg.Env)
	}
	if cfg.ObjectStoreType != "gcs" {
		t.Fatalf("expected gcs, got %q", cfg.ObjectStoreType)
	}
	if cfg.MaxUploadBytes != 1024 || !cfg.AllowOverwrite {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if len(cfg.CORSAllowOrigin) != 2 || cfg.CORSAllowOrigin[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowOrigin)
	}
	if cfg.UploadRatePerMin != 30 {
		t.Fatalf("expected invalid rate to fall back to default, got %v", cfg.UploadRatePerMin)
	}
}
