package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/VolodymyrStetsenko/rukh/internal/interface/httpapi"
)

// ServeAction はHTTP APIサーバ起動コマンドのアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = appCtx.Config.HTTPAddr
	}

	server := httpapi.NewServer(addr, appCtx.Container.AnalysisService, appCtx.Logger())
	return server.ListenAndServe(ctx)
}
