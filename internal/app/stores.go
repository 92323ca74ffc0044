package app

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/config"
	"github.com/todddickerson/overskill-sub011/internal/deploy"
	"github.com/todddickerson/overskill-sub011/internal/objectstore"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

type stores struct {
	db      *sql.DB
	sources sourcefile.Store
	cache   *sourcefile.CachedStore
	dir     *sourcefile.DirStore
	records deploy.RecordStore
	assets  objectstore.Store
}

func initStores(cfg *config.Config, log *zap.Logger) (*stores, error) {
	s := &stores{}
	var origin sourcefile.Store
	switch {
	case strings.TrimSpace(cfg.Source.DatabaseURL) != "":
		db, err := sourcefile.OpenPostgres(cfg.Source.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.db = db
		origin = sourcefile.NewPostgresStore(db)
		s.records = deploy.NewPostgresRecordStore(db)
		log.Info("source store: postgres")
	case strings.TrimSpace(cfg.Source.Dir) != "":
		dir, err := sourcefile.NewDirStore(cfg.Source.Dir)
		if err != nil {
			return nil, fmt.Errorf("open source dir: %w", err)
		}
		s.dir = dir
		origin = dir
		log.Info("source store: directory", zap.String("root", dir.Root()))
	default:
		origin = sourcefile.NewMemoryStore()
		log.Warn("source store: in-memory (set DATABASE_URL or SOURCE_DIR to persist)")
	}
	if s.records == nil {
		s.records = deploy.NewMemoryRecordStore()
	}

	cache, err := sourcefile.NewCachedStore(origin, 0)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	s.sources = cache

	assets, err := initAssets(cfg, log)
	if err != nil {
		return nil, err
	}
	s.assets = assets
	return s, nil
}

// initAssets uses the bucket when it is fully configured and an in-memory
// store otherwise, so local builds still package and report asset keys.
func initAssets(cfg *config.Config, log *zap.Logger) (objectstore.Store, error) {
	st := cfg.Storage
	if st.Endpoint == "" || st.Bucket == "" || st.AccessKey == "" || st.SecretKey == "" {
		log.Warn("asset store: in-memory (object storage not configured)")
		return objectstore.NewMemoryStore(st.PublicURL), nil
	}
	s3, err := objectstore.NewS3Store(objectstore.S3Config{
		Endpoint:  st.Endpoint,
		Region:    st.Region,
		AccessKey: st.AccessKey,
		SecretKey: st.SecretKey,
		Bucket:    st.Bucket,
		UseSSL:    st.UseSSL,
		PublicURL: st.PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize asset store: %w", err)
	}
	log.Info("asset store: s3", zap.String("bucket", st.Bucket), zap.String("endpoint", st.Endpoint))
	return s3, nil
}

func (s *stores) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
