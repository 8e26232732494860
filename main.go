package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"reecal-service/api"
	_ "reecal-service/docs"
	"reecal-service/logger"
	"reecal-service/service"
	"reecal-service/service/config"
	"reecal-service/service/datasource"
	"reecal-service/service/meta"
	"reecal-service/service/pipeline"
	"reecal-service/service/report"
)

// 批处理退出码
const (
	exitOK        = 0
	exitFailure   = 1
	exitReference = 2
	exitUsage     = 64
)

type batchOptions struct {
	dir      string
	highLine int
	out      string
	prefix   string
	unit     string
	encoding string
	noPlots  bool
}

// @title 稀土含量双能标定服务 API
// @version 1.0
// @description 基于伽马能谱双能窗口的稀土含量标定、检出限评估和分析记录管理
// @BasePath /swagger/reecal-service
func main() {
	var (
		configPath string
		opts       batchOptions
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认依次查找 REECAL_CONFIG、config.yaml、config.json")
	flag.StringVar(&opts.dir, "dir", "", "样品数据目录，指定时以批处理方式运行一次分析后退出")
	flag.IntVar(&opts.highLine, "high-line", 0, "高能谱线能量(keV)，如 779 或 1408")
	flag.StringVar(&opts.out, "out", "results", "批处理输出目录")
	flag.StringVar(&opts.prefix, "prefix", "", "输出文件名前缀")
	flag.StringVar(&opts.unit, "unit", "", "数据集能量单位 MeV 或 keV，默认取配置")
	flag.StringVar(&opts.encoding, "encoding", "", "CSV 输出编码 utf-8、gbk 或 gb18030")
	flag.BoolVar(&opts.noPlots, "no-plots", false, "不生成图形")
	flag.Parse()

	logger.InitLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("加载配置失败", "error", err)
		os.Exit(exitUsage)
	}

	if opts.dir != "" {
		os.Exit(runBatch(cfg, opts))
	}
	serve(cfg)
}

// runBatch 分析一个目录并写出结果文件，返回退出码
func runBatch(cfg *config.Config, opts batchOptions) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pcfg, err := cfg.Analysis.PipelineConfig()
	if err != nil {
		slog.Error("分析参数无效", "error", err)
		return exitUsage
	}
	if opts.highLine != 0 {
		if pcfg, err = pcfg.WithHighLine(opts.highLine); err != nil {
			slog.Error("高能谱线无效", "high_line", opts.highLine, "error", err)
			return exitUsage
		}
	}
	unit := opts.unit
	if unit == "" {
		unit = pcfg.Unit
	}
	if !meta.IsValidUnit(unit) {
		slog.Error("能量单位无效", "unit", unit)
		return exitUsage
	}

	const dsID = "cli"
	manager := datasource.NewDataSourceRegistry().GetManager()
	defer manager.StopAll(context.Background())
	if err := manager.Register(ctx, &datasource.Config{
		ID:         dsID,
		Type:       meta.DataSourceTypeFileCSV,
		Connection: map[string]interface{}{"base_dir": opts.dir, "unit": unit, "column": pcfg.Column},
	}); err != nil {
		slog.Error("打开数据目录失败", "dir", opts.dir, "error", err)
		return exitUsage
	}
	source, err := manager.Source(dsID)
	if err != nil {
		slog.Error("打开数据目录失败", "dir", opts.dir, "error", err)
		return exitUsage
	}

	ids, err := source.(datasource.Lister).ListDatasets(ctx)
	if err != nil {
		slog.Error("列举样品文件失败", "dir", opts.dir, "error", err)
		return exitFailure
	}
	samples, ignored, err := pipeline.DiscoverSamples(ids)
	if err != nil {
		slog.Error("生成样品清单失败", "error", err)
		return exitUsage
	}
	if len(ignored) > 0 {
		slog.Warn("文件名中没有浓度标记，已忽略", "files", ignored)
	}
	if len(samples) == 0 {
		slog.Error("目录中没有可识别浓度的样品文件", "dir", opts.dir)
		return exitUsage
	}

	inner, err := pipeline.NewSourceLoader(source, pcfg, unit)
	if err != nil {
		slog.Error("创建能谱加载器失败", "error", err)
		return exitUsage
	}
	loader := report.NewCollectingLoader(inner)

	res, err := pipeline.Run(ctx, pcfg, loader, samples)
	if err != nil {
		slog.Error("分析失败", "error", err)
		if errors.Is(err, pipeline.ErrReferenceUnavailable) || errors.Is(err, pipeline.ErrReferenceDegenerate) {
			return exitReference
		}
		return exitFailure
	}

	emitter := &report.Emitter{Dir: opts.out, Prefix: opts.prefix, Encoding: opts.encoding, NoPlots: opts.noPlots}
	files, err := emitter.Emit(res, loader.Spectra())
	if err != nil {
		slog.Error("写出结果失败", "dir", opts.out, "error", err)
		return exitFailure
	}
	fmt.Print(report.Summary(res))
	for _, f := range files {
		fmt.Println(f)
	}
	return exitOK
}

// serve 以 HTTP 服务方式运行
func serve(cfg *config.Config) {
	if err := service.Init(cfg); err != nil {
		log.Fatalf("服务初始化失败: %v", err)
	}

	mux := chi.NewRouter()
	baseContext := cfg.Server.BaseContext

	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if baseContext != "" {
		mux.Route(baseContext, func(r chi.Router) {
			api.InitRoute(r)
			r.Handle("/metrics", promhttp.Handler())
			r.Handle("/swagger*", httpSwagger.WrapHandler)
		})
	} else {
		api.InitRoute(mux)
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/swagger*", httpSwagger.WrapHandler)
	}

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(cfg.Server.Port), mux)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		slog.Info("收到退出信号，正在停止服务")
		if err := s.GracefulStop(); err != nil {
			slog.Error("停止HTTP服务失败", "error", err)
		}
	}()

	slog.Info("服务启动", "port", cfg.Server.Port, "base_context", baseContext)
	if err := s.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := service.Shutdown(ctx); err != nil {
		slog.Error("释放资源失败", "error", err)
	}
}
