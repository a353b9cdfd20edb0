// Package model defines the domain types shared by the streaming subsystem:
// transaction codes, channel kinds, closed code enums and the decoded
// message bodies for trade ticks, order-book depth and personal fills.
package model
