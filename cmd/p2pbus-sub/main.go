// Package main 提供 p2pbus 订阅端命令行工具
//
// 订阅一个或多个主题，打印收到的样本与连接事件，并定期输出统计。
//
// 使用方法:
//
//	p2pbus-sub -topic camera/front,lidar -preset local
//	p2pbus-sub -config p2pbus.json -topic camera/front -metrics-addr :9102
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-p2pbus"
	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/util/logger"
)

var log = logger.Logger("p2pbus/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖（这次订阅什么、怎么输出）
//   JSON 配置文件：传输层、注册层等长期配置
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile  = flag.String("config", "", "配置文件路径")
	preset      = flag.String("preset", "", "预设配置 (local/network/tcp-only)")
	topics      = flag.String("topic", "", "订阅的主题，逗号分隔")
	layers      = flag.String("layers", "", "订阅使用的传输层，逗号分隔 (udp/shm/tcp)")
	hostName    = flag.String("host", "", "本机主机名（默认 os.Hostname）")
	metricsAddr = flag.String("metrics-addr", "", "Prometheus 指标监听地址")
	recordPath  = flag.String("record", "", "录制样本的目录")
	statsEvery  = flag.Duration("stats", 5*time.Second, "统计输出间隔（0 = 不输出）")
	quiet       = flag.Bool("quiet", false, "不打印单个样本")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(p2pbus.VersionInfo())
		return nil
	}

	names := splitAndTrim(*topics, ",")
	if len(names) == 0 {
		return errors.New("至少需要一个 -topic")
	}

	opts, reg, err := buildOptions(names)
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("启动订阅端", "version", p2pbus.Version, "commit", p2pbus.GitCommit, "topics", names)
	node, err := p2pbus.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	var subOpts []p2pbus.SubscribeOption
	subOpts = append(subOpts, p2pbus.WithEventBuffer(64))
	if l := splitAndTrim(*layers, ","); len(l) > 0 {
		subOpts = append(subOpts, p2pbus.WithSubscriberLayers(l...))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		sub, err := node.Subscribe(name, subOpts...)
		if err != nil {
			return err
		}
		if !*quiet {
			topic := name
			sub.SetReceiveCallback(func(s *p2pbus.Sample) {
				fmt.Printf("[%s] pub=%s counter=%d layer=%s bytes=%d\n", topic, s.Publisher, s.Counter, s.Layer, len(s.Payload))
			})
		}
		g.Go(func() error {
			printEvents(gctx, name, sub.Events())
			return nil
		})
	}

	if reg != nil {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if *statsEvery > 0 {
		g.Go(func() error {
			printStats(gctx, node, *statsEvery)
			return nil
		})
	}

	fmt.Println("订阅端已启动，按 Ctrl+C 退出")
	err = g.Wait()
	fmt.Println("\n正在关闭...")
	return err
}

// buildOptions 构建节点选项
//
// 配置优先级（从高到低）：命令行参数 > 环境变量 > 配置文件 > 默认值。
func buildOptions(names []string) ([]p2pbus.Option, *prometheus.Registry, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	applyEnvOverrides(cfg)

	opts := []p2pbus.Option{p2pbus.WithConfig(cfg)}
	if *preset != "" {
		opts = append(opts, p2pbus.WithPreset(*preset))
	}
	if *hostName != "" {
		opts = append(opts, p2pbus.WithHostName(*hostName))
	}
	if *recordPath != "" {
		opts = append(opts, p2pbus.WithRecorder(*recordPath, names...))
	}

	var reg *prometheus.Registry
	if *metricsAddr != "" {
		reg = prometheus.NewRegistry()
		opts = append(opts, p2pbus.WithMetrics(reg))
	}
	return opts, reg, nil
}

func printEvents(ctx context.Context, topic string, events <-chan p2pbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case p2pbus.EventDropped:
				fmt.Printf("[%s] %s pub=%s drops=%d\n", topic, ev.Type, ev.Publisher.EntityID, ev.Drops)
			default:
				fmt.Printf("[%s] %s pub=%s host=%s layers=%s\n", topic, ev.Type, ev.Publisher.EntityID, ev.Publisher.HostName, ev.Layers)
			}
		}
	}
}

func printStats(ctx context.Context, node *p2pbus.Node, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range node.Snapshots() {
				fmt.Printf("[%s] recv=%d dup=%d drops=%d freq=%.2fHz pubs=%d/%d\n",
					s.TopicID.TopicName, s.Received, s.Duplicates, s.Drops, s.Frequency,
					s.ConnectionsLocal, s.ConnectionsExternal)
			}
		}
	}
}
