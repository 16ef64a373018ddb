package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/eventop/subsync/internal/app/api/server"
	"github.com/eventop/subsync/internal/app/service/checkout"
	"github.com/eventop/subsync/internal/app/service/indexer"
	"github.com/eventop/subsync/internal/app/service/scheduler"
	"github.com/eventop/subsync/internal/app/service/webhook"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/internal/platform/db"
	"github.com/eventop/subsync/pkg/config"
	"github.com/eventop/subsync/pkg/logger"
)

const (
	// Startup covers the chain connectivity check plus backlog replay.
	DefaultStartTimeout = 60 * time.Second
	DefaultStopTimeout  = 15 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	chain.Module,
	webhook.Module,
	checkout.Module,
	scheduler.Module,
	indexer.Module,
	server.Module,
)
