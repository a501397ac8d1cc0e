// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 Aura 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 异步辅助: WaitForChannel，带超时地等待一个值
  - 帧解码: DecodeFrame，把发往语音服务的 JSON 帧解成目标类型

# 子包

  - testutil/mocks: 记录型 Mock，包括 Outbound（发往语音服务的命令）
    和 Recorder（会话、工具、快照、连接指标），支持错误注入
  - testutil/fixtures: 语音事件线上 JSON 工厂与韵律样例

# 使用示例

	ctx := testutil.TestContext(t)
	out := mocks.NewOutbound()
	require.NoError(t, sess.Open(ctx, out))
	ev, _ := session.ParseEvent([]byte(fixtures.UserMessage("hi", fixtures.StressedProsody())))
*/
package testutil
