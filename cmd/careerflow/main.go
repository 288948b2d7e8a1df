// =============================================================================
// careerflow 命令行入口
// =============================================================================
// 在进程内装配消息总线、阶段智能体、状态存储与工作流引擎，执行一次命令后退出。
//
// 使用方法:
//
//	careerflow submit --workflow auto --job job.yaml   # 提交并等待运行结束
//	careerflow status <run-id>                         # 查看运行状态与输出
//	careerflow resume <run-id>                         # 从检查点继续运行
//	careerflow list --status failed                    # 列出运行记录
//	careerflow validate [workflow.yaml...]             # 校验配置与工作流定义
//	careerflow version                                 # 显示版本信息
//
// 退出码: 0 成功，1 运行失败或被取消，2 调用参数无效，3 其他错误
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/careerflow/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK        = 0
	exitRunFailed = 1
	exitUsage     = 2
	exitError     = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs one command line and maps its outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitCodeFor(err)
}

// exitErr carries an explicit exit code through cobra.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitErr{code: exitUsage, err: err}
}

func usageErrorf(format string, args ...any) error {
	return usageError(fmt.Errorf(format, args...))
}

// exitCodeFor 按错误码区分“调用无效”和其他错误
func exitCodeFor(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	switch types.GetErrorCode(err) {
	case types.ErrInvalidConfig,
		types.ErrInvalidInput,
		types.ErrMalformedWorkflow,
		types.ErrMissingAgent,
		types.ErrRunNotFound,
		types.ErrInvalidTransition,
		types.ErrDuplicateRun:
		return exitUsage
	default:
		return exitError
	}
}
