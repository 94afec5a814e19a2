// Package journal 记录每一次转账请求及其最终结果，提供内存与 SQL 两种实现。
package journal
