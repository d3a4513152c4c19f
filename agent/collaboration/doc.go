// Package collaboration 提供多 Agent 协作模式，包括辩论、共识和投票等交互策略。
//
// 本包实现了多种协作模式（debate/consensus/voting），支持角色定义、
// 消息传递和协作结果聚合，用于多个 Agent 协同完成复杂任务。
package collaboration
