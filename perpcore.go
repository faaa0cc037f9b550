package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"

	"perpcore/internal/config"
	"perpcore/internal/handler"
	"perpcore/internal/svc"
)

var configFile = flag.String("f", "etc/perpcore.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)

	svcCtx, err := svc.NewServiceContext(*cfg)
	logx.Must(err)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	logx.Must(handler.RegisterHandlers(server, svcCtx))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logx.Must(svcCtx.Start(ctx))
	defer svcCtx.Stop()

	// Stop accepting requests before the supervisor unwinds.
	go func() {
		<-ctx.Done()
		server.Stop()
	}()

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
