package appconfig

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tapgate/tapgate/internal/core/application"
	"github.com/tapgate/tapgate/internal/core/ports"
	cachestore "github.com/tapgate/tapgate/internal/infrastructure/cache/gocache"
	"github.com/tapgate/tapgate/internal/infrastructure/db"
	mocknode "github.com/tapgate/tapgate/internal/infrastructure/node/mock"
	"github.com/tapgate/tapgate/internal/infrastructure/notifier"
	scheduler "github.com/tapgate/tapgate/internal/infrastructure/scheduler/gocron"
)

var (
	supportedDbs = supportedType{
		"badger": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
	supportedNodes = supportedType{
		"mock": {},
		"none": {},
	}
)

const defaultCacheTTL = 24 * time.Hour

type Config struct {
	DbType         string
	DbDir          string
	SchedulerType  string
	NodeType       string
	ExpiryInterval int64

	repo     ports.RepoManager
	svc      application.Service
	node     ports.NodeClient
	notifier *notifier.Notifier
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf("scheduler type not supported, please select one of: %s", supportedSchedulers)
	}
	if !supportedNodes.supports(c.NodeType) {
		return fmt.Errorf("node type not supported, please select one of: %s", supportedNodes)
	}
	if c.ExpiryInterval < 5 {
		return fmt.Errorf("invalid expiry interval, must be at least 5 seconds")
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.nodeService(); err != nil {
		return err
	}
	if err := c.appService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() application.Service {
	return c.svc
}

func (c *Config) Notifier() *notifier.Notifier {
	return c.notifier
}

func (c *Config) repoManager() error {
	var svc ports.RepoManager
	var err error
	switch c.DbType {
	case "badger":
		logger := log.New()
		svc, err = db.NewService(db.ServiceConfig{
			DataStoreType:   c.DbType,
			DataStoreConfig: []interface{}{c.DbDir, logger},
		})
	default:
		return fmt.Errorf("unknown db type")
	}
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) nodeService() error {
	switch c.NodeType {
	case "mock":
		c.node = mocknode.NewService()
	case "none":
		c.node = nil
	default:
		return fmt.Errorf("unknown node type")
	}
	return nil
}

func (c *Config) appService() error {
	c.notifier = notifier.NewService()
	svc := application.NewService(
		c.repo,
		cachestore.NewCache(defaultCacheTTL),
		c.node,
		c.notifier,
		scheduler.NewScheduler(),
		c.ExpiryInterval,
	)
	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
