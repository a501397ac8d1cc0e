// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
包 score 将语音韵律情绪概率聚合为 0-100 的困扰分数。

# 概述

每个情绪标签在权重表中有一个带符号权重：正权重计入"压力"和，负权重
计入"平静"和。检测到压力（压力和超过阈值）时，平静信号的贡献被衰减，
最终得分为 clamp(round(raw*Multiplier), 0, 100)。

# 核心类型

  - Sample     ：情绪标签到概率的映射（来自外部语音情绪模型）
  - WeightTable：小写情绪标签到带符号权重的映射
  - Calibration：可调标定常数（倍率、衰减阈值、衰减系数）
  - Profile    ：多轴评分配置，每个轴独立使用一张权重表
  - Result     ：每个轴一个 [0,100] 的整数分数

# 内置配置

  - StressProfile：单轴 stress，对应任务型助手
  - CompanionProfile：loneliness / confusion / distress 三轴，对应陪伴型助手
*/
package score
